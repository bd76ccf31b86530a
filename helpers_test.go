package main

import (
	"bytes"
	"path/filepath"
	"testing"
)

// useBufferWriters 在测试期间把 stdOut/stdErr 替换为内存缓冲区。
func useBufferWriters(t *testing.T) {
	t.Helper()

	prevOut, prevErr := stdOut, stdErr
	stdOut, stdErr = &bytes.Buffer{}, &bytes.Buffer{}
	t.Cleanup(func() {
		stdOut, stdErr = prevOut, prevErr
	})
}

func stdOutBuffer() *bytes.Buffer {
	buf, _ := stdOut.(*bytes.Buffer)
	return buf
}

func stdErrBuffer() *bytes.Buffer {
	buf, _ := stdErr.(*bytes.Buffer)
	return buf
}

// configFixture 返回 internal/config/testdata 下的配置样例；go test 的工作目录即仓库根目录。
func configFixture(t *testing.T, name string) string {
	t.Helper()
	path, err := filepath.Abs(filepath.Join("internal", "config", "testdata", name))
	if err != nil {
		t.Fatalf("无法定位配置样例: %v", err)
	}
	return path
}
