// Package config 定义排序模型的运行配置，支持 YAML 文件覆盖默认值。
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rushteam/reviewrank/core"
)

// 编码器名称
const (
	EncoderPV  = "pv"  // paragraph vector
	EncoderPVC = "pvc" // corruption paragraph vector
	EncoderFS  = "fs"  // 小型 Transformer + attention pooling
	EncoderAVG = "avg" // 平均池化
)

// ErrInvalidConfig 表示配置校验失败
var ErrInvalidConfig = core.NewDomainError(core.ModuleConfig, core.ErrorCodeInvalidInput, "config: invalid configuration")

// Config 是模型与训练驱动共享的配置。
// 训练循环相关字段（lr、warmup 等）只透传给外部 trainer，模型本身不读取。
type Config struct {
	Seed   int64  `yaml:"seed" json:"seed"`
	Device string `yaml:"device" json:"device"`

	TrainFrom string `yaml:"train_from" json:"train_from"`
	TestFrom  string `yaml:"test_from" json:"test_from"`

	// 优化器
	Optim       string  `yaml:"optim" json:"optim"` // sgd / adam
	LR          float64 `yaml:"lr" json:"lr"`
	Beta1       float64 `yaml:"beta1" json:"beta1"`
	Beta2       float64 `yaml:"beta2" json:"beta2"`
	DecayMethod string  `yaml:"decay_method" json:"decay_method"`
	WarmupSteps int     `yaml:"warmup_steps" json:"warmup_steps"`
	MaxGradNorm float64 `yaml:"max_grad_norm" json:"max_grad_norm"`
	L2Lambda    float64 `yaml:"l2_lambda" json:"l2_lambda"`

	// 数据
	SubsamplingRate float64 `yaml:"subsampling_rate" json:"subsampling_rate"`
	BatchSize       int     `yaml:"batch_size" json:"batch_size"`
	ValidBatchSize  int     `yaml:"valid_batch_size" json:"valid_batch_size"`
	CandiBatchSize  int     `yaml:"candi_batch_size" json:"candi_batch_size"`
	NumWorkers      int     `yaml:"num_workers" json:"num_workers"`
	DataDir         string  `yaml:"data_dir" json:"data_dir"`
	InputTrainDir   string  `yaml:"input_train_dir" json:"input_train_dir"`
	SaveDir         string  `yaml:"save_dir" json:"save_dir"`
	LogFile         string  `yaml:"log_file" json:"log_file"`

	// 模型结构
	QueryEncoderName  string  `yaml:"query_encoder_name" json:"query_encoder_name"`
	ReviewEncoderName string  `yaml:"review_encoder_name" json:"review_encoder_name"`
	EmbeddingSize     int     `yaml:"embedding_size" json:"embedding_size"`
	FFSize            int     `yaml:"ff_size" json:"ff_size"`
	Heads             int     `yaml:"heads" json:"heads"`
	InterLayers       int     `yaml:"inter_layers" json:"inter_layers"`
	Dropout           float64 `yaml:"dropout" json:"dropout"`

	ReviewWordLimit  int `yaml:"review_word_limit" json:"review_word_limit"`
	UprevReviewLimit int `yaml:"uprev_review_limit" json:"uprev_review_limit"`
	IprevReviewLimit int `yaml:"iprev_review_limit" json:"iprev_review_limit"`
	PVWindowSize     int `yaml:"pv_window_size" json:"pv_window_size"`

	// corruption：保留概率为 1-CorruptRate；CorruptScale 为 0 时使用 1/(1-CorruptRate)
	CorruptRate     float64 `yaml:"corrupt_rate" json:"corrupt_rate"`
	CorruptScale    float64 `yaml:"corrupt_scale" json:"corrupt_scale"`
	MaxPVCWordCount int     `yaml:"max_pvc_word_count" json:"max_pvc_word_count"`

	ShuffleReviewWords bool `yaml:"shuffle_review_words" json:"shuffle_review_words"`
	TrainReviewOnly    bool `yaml:"train_review_only" json:"train_review_only"`

	MaxTrainEpoch      int `yaml:"max_train_epoch" json:"max_train_epoch"`
	StartEpoch         int `yaml:"start_epoch" json:"start_epoch"`
	StepsPerCheckpoint int `yaml:"steps_per_checkpoint" json:"steps_per_checkpoint"`
	NegPerPos          int `yaml:"neg_per_pos" json:"neg_per_pos"`

	// WeightDistort 为 true 时负采样分布使用词频的 0.75 次方
	WeightDistort bool `yaml:"weight_distort" json:"weight_distort"`

	// FixEmb 冻结词向量与评论向量（通常配合 PretrainEmbDir）
	FixEmb         bool   `yaml:"fix_emb" json:"fix_emb"`
	PretrainEmbDir string `yaml:"pretrain_emb_dir" json:"pretrain_emb_dir"`

	Decode     bool   `yaml:"decode" json:"decode"`
	TestMode   string `yaml:"test_mode" json:"test_mode"`
	RankCutoff int    `yaml:"rank_cutoff" json:"rank_cutoff"`

	// CacheSliceSize 是重建评论向量缓存时每片的评论数
	CacheSliceSize int `yaml:"cache_slice_size" json:"cache_slice_size"`
	// CacheWorkers 是重建缓存的并发片数上限
	CacheWorkers int `yaml:"cache_workers" json:"cache_workers"`
}

// Default 返回默认配置。
func Default() *Config {
	return &Config{
		Seed:               666,
		Device:             "cpu",
		Optim:              "adam",
		LR:                 0.002,
		Beta1:              0.9,
		Beta2:              0.999,
		DecayMethod:        "noam",
		WarmupSteps:        3000,
		MaxGradNorm:        5.0,
		SubsamplingRate:    1e-5,
		BatchSize:          32,
		ValidBatchSize:     16,
		CandiBatchSize:     1000,
		NumWorkers:         4,
		DataDir:            "/tmp",
		SaveDir:            "/tmp",
		LogFile:            "train.log",
		QueryEncoderName:   EncoderFS,
		ReviewEncoderName:  EncoderPVC,
		EmbeddingSize:      128,
		FFSize:             512,
		Heads:              8,
		InterLayers:        2,
		Dropout:            0.1,
		ReviewWordLimit:    100,
		UprevReviewLimit:   10,
		IprevReviewLimit:   30,
		PVWindowSize:       5,
		CorruptRate:        0.9,
		MaxPVCWordCount:    50,
		ShuffleReviewWords: true,
		TrainReviewOnly:    true,
		MaxTrainEpoch:      5,
		StepsPerCheckpoint: 200,
		NegPerPos:          5,
		TestMode:           "product_scores",
		RankCutoff:         100,
		CacheSliceSize:     128,
		CacheWorkers:       4,
	}
}

// LoadFromYAML 从 YAML 文件加载配置，文件中未出现的字段保持默认值。
func LoadFromYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return ParseYAML(data)
}

// ParseYAML 解析 YAML 内容并在默认值之上覆盖。
func ParseYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验模型结构相关的配置。
func (c *Config) Validate() error {
	switch c.ReviewEncoderName {
	case EncoderPV, EncoderPVC, EncoderFS, EncoderAVG:
	default:
		return invalid("unknown review_encoder_name %q", c.ReviewEncoderName)
	}
	switch c.QueryEncoderName {
	case EncoderFS, EncoderAVG:
	default:
		return invalid("unknown query_encoder_name %q", c.QueryEncoderName)
	}
	if c.EmbeddingSize <= 0 || c.FFSize <= 0 || c.InterLayers < 0 {
		return invalid("embedding_size, ff_size must be positive and inter_layers non-negative")
	}
	if c.Heads <= 0 || c.EmbeddingSize%c.Heads != 0 {
		return invalid("embedding_size %d must be divisible by heads %d", c.EmbeddingSize, c.Heads)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return invalid("dropout %v out of [0,1)", c.Dropout)
	}
	if c.CorruptRate < 0 || c.CorruptRate >= 1 {
		return invalid("corrupt_rate %v out of [0,1)", c.CorruptRate)
	}
	if c.CorruptScale < 0 {
		return invalid("corrupt_scale %v must be non-negative", c.CorruptScale)
	}
	if c.NegPerPos < 0 {
		return invalid("neg_per_pos %d must be non-negative", c.NegPerPos)
	}
	return nil
}

// EffectiveReviewEncoder 返回实际使用的评论编码器。
// 冻结嵌入时 pvc 回退为 pv：预训练的评论向量已包含全部词，不再需要按 max_pvc_word_count 截断。
func (c *Config) EffectiveReviewEncoder() string {
	if c.FixEmb && c.ReviewEncoderName == EncoderPVC {
		return EncoderPV
	}
	return c.ReviewEncoderName
}

// EffectiveCorruptScale 返回 corruption 后的放大系数。
func (c *Config) EffectiveCorruptScale() float64 {
	if c.CorruptScale > 0 {
		return c.CorruptScale
	}
	return 1 / (1 - c.CorruptRate)
}

// Clone 返回配置的浅拷贝（所有字段都是值类型）。
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...)
}
