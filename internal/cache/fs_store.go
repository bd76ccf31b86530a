package cache

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// NewStore 基于 afero 文件系统构建 Store；logger 为 nil 时丢弃日志。
func NewStore(fsys afero.Fs, logger *logrus.Logger) Store {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &fsStore{fs: fsys, logger: ensureLogger(logger)}
}

type fsStore struct {
	fs     afero.Fs
	logger *logrus.Logger
}

func (s *fsStore) Stat(ctx context.Context, path string) (FileState, error) {
	if err := ctx.Err(); err != nil {
		return FileState{}, err
	}
	info, err := s.fs.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return FileState{}, ErrNotFound
		}
		return FileState{}, &FilesystemError{Op: "stat", Path: path, Err: err}
	}
	return FileState{
		IsFile: info.Mode().IsRegular(),
		Size:   info.Size(),
	}, nil
}

func (s *fsStore) IsValidCachedFile(ctx context.Context, path string) bool {
	state, err := s.Stat(ctx, path)
	if err != nil || !state.IsFile {
		return false
	}
	if state.Size == 0 {
		s.logger.WithFields(logrus.Fields{
			"action": "cache_validate",
			"path":   path,
		}).Warn("zero_size_cache_file_removed")
		s.DeleteFile(ctx, path)
		return false
	}
	return true
}

func (s *fsStore) DeleteFile(ctx context.Context, path string) {
	info, err := s.fs.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}
	if err := s.fs.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"action": "cache_delete",
			"path":   path,
		}).Debug("cache_delete_ignored")
	}
}

func (s *fsStore) EnsureDirectory(ctx context.Context, filePath string) error {
	return s.MkdirAll(ctx, filepath.Dir(filePath))
}

func (s *fsStore) RemoveAll(ctx context.Context, dir string) {
	if err := s.fs.RemoveAll(dir); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"action": "cache_remove_all",
			"path":   dir,
		}).Warn("cache_remove_all_incomplete")
	}
}

func (s *fsStore) MkdirAll(ctx context.Context, dir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ok, err := afero.DirExists(s.fs, dir); err == nil && ok {
		return nil
	}
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return &FilesystemError{Op: "mkdir", Path: dir, Err: err}
	}
	return nil
}

func (s *fsStore) Open(ctx context.Context, path string) (afero.File, error) {
	f, err := s.fs.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, &FilesystemError{Op: "open", Path: path, Err: err}
	}
	return f, nil
}

func (s *fsStore) Usage(ctx context.Context, dir string) (Usage, error) {
	var usage Usage
	err := afero.Walk(s.fs, dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if info.Mode().IsRegular() {
			usage.Files++
			usage.Bytes += info.Size()
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Usage{}, nil
		}
		return usage, &FilesystemError{Op: "walk", Path: dir, Err: err}
	}
	return usage, nil
}
