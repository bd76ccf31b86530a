package cache

import (
	"context"

	"github.com/spf13/afero"
)

// Store 是文件系统协作方之上的薄适配层。缓存目录视为本系统独占，
// 外部写入不在约束范围内。
type Store interface {
	// Stat 返回路径状态；不存在时返回 ErrNotFound，其它错误包装为 *FilesystemError。
	Stat(ctx context.Context, path string) (FileState, error)

	// IsValidCachedFile 在文件存在、是普通文件且大小非 0 时返回 true。
	// 0 字节文件视为损坏，会被顺带删除。
	IsValidCachedFile(ctx context.Context, path string) bool

	// DeleteFile 尽力删除普通文件，路径不存在或删除失败都不会报错。
	DeleteFile(ctx context.Context, path string)

	// EnsureDirectory 为文件路径创建所有缺失的父目录。
	EnsureDirectory(ctx context.Context, filePath string) error

	// RemoveAll 尽力删除整个目录树。
	RemoveAll(ctx context.Context, dir string)

	// MkdirAll 创建目录（含中间目录）。
	MkdirAll(ctx context.Context, dir string) error

	// Open 以只读方式打开缓存文件，供 HTTP 层流式输出。
	Open(ctx context.Context, path string) (afero.File, error)

	// Usage 统计目录树下的文件数与总字节数。
	Usage(ctx context.Context, dir string) (Usage, error)
}

// FileState 描述一次 stat 的结果。
type FileState struct {
	IsFile bool
	Size   int64
}

// Usage 汇总缓存目录的占用情况。
type Usage struct {
	Files int64 `json:"files"`
	Bytes int64 `json:"bytes"`
}
