package model

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// LoadPretrainEmbeddings 读取文本格式的向量表，支持 gzip 压缩（按 magic 自动识别）。
//
// 格式：
//
//	<count> <dim>
//	[token] v1 v2 ... v_dim
//	...
//
// 每行可以带一个前导 token（例如词本身），会被忽略。
func LoadPretrainEmbeddings(r io.Reader) ([][]float64, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open gzip: %w", err)
		}
		defer gz.Close()
		return parseEmbeddings(gz)
	}
	return parseEmbeddings(br)
}

// LoadPretrainEmbeddingsFile 从文件读取向量表。
func LoadPretrainEmbeddingsFile(path string) ([][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pretrained embeddings: %w", err)
	}
	defer f.Close()
	rows, err := LoadPretrainEmbeddings(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

func parseEmbeddings(r io.Reader) ([][]float64, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("empty embedding file")
	}
	header := strings.Fields(sc.Text())
	if len(header) != 2 {
		return nil, fmt.Errorf("bad header %q, want \"count dim\"", sc.Text())
	}
	count, err := strconv.Atoi(header[0])
	if err != nil {
		return nil, fmt.Errorf("bad count: %w", err)
	}
	dim, err := strconv.Atoi(header[1])
	if err != nil || dim <= 0 {
		return nil, fmt.Errorf("bad dim %q", header[1])
	}

	rows := make([][]float64, 0, count)
	line := 1
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) == dim+1 {
			fields = fields[1:]
		}
		if len(fields) != dim {
			return nil, fmt.Errorf("line %d: %d values, want %d", line, len(fields), dim)
		}
		row := make([]float64, dim)
		for i, f := range fields {
			if row[i], err = strconv.ParseFloat(f, 64); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(rows) != count {
		return nil, fmt.Errorf("%d rows, header says %d", len(rows), count)
	}
	return rows, nil
}
