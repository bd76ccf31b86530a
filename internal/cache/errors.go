package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidURL 表示 URL 无法解析或不是 http(s) 资源。
	ErrInvalidURL = errors.New("invalid image url")
	// ErrCacheMiss 表示缓存文件不存在或已损坏（0 字节）。
	ErrCacheMiss = errors.New("image not cached")
	// ErrNotFound 表示存储层找不到目标路径。
	ErrNotFound = errors.New("cache entry not found")
)

// TransportError 包装下载失败的原始错误，所有等待同一下载的调用方收到同一个实例。
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// FilesystemError 仅用于非幂等的文件操作（stat/mkdir），删除类操作永远不会返回它。
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error {
	return e.Err
}

func invalidURL(raw string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return fmt.Errorf("%w: %q: %v", ErrInvalidURL, raw, cause)
}
