// Package store 提供 core.Store 的实现：内存（测试/单机）与 Redis（多进程共享 checkpoint）。
//
// 注意：此包只包含实现，接口定义在 core 包。
//
// 示例：
//
//	var s core.Store = store.NewMemoryStore()
//	err := checkpoint.Save(ctx, s, "prodsearch:epoch:3", ckpt)
package store
