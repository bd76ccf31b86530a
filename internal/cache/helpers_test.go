package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
)

const testRoot = "/var/lib/imgcache"

// stubTransport 把固定内容写入目标路径，可选择阻塞直到 release 被关闭。
type stubTransport struct {
	fs      afero.Fs
	body    []byte
	fail    error
	calls   atomic.Int64
	started chan struct{}
	release chan struct{}
	once    sync.Once

	mu      sync.Mutex
	headers []map[string]string
}

func newStubTransport(fs afero.Fs, body string) *stubTransport {
	return &stubTransport{fs: fs, body: []byte(body), started: make(chan struct{})}
}

func (s *stubTransport) blocking() *stubTransport {
	s.release = make(chan struct{})
	return s
}

func (s *stubTransport) Fetch(ctx context.Context, req FetchRequest) error {
	s.calls.Add(1)
	s.mu.Lock()
	s.headers = append(s.headers, req.Headers)
	s.mu.Unlock()
	s.once.Do(func() { close(s.started) })

	if s.release != nil {
		<-s.release
	}
	if s.fail != nil {
		// 模拟写了一半的文件
		_ = afero.WriteFile(s.fs, req.Destination, []byte("partial"), 0o644)
		return s.fail
	}
	return afero.WriteFile(s.fs, req.Destination, s.body, 0o644)
}

func newTestManager(t *testing.T, transport Transport, fs afero.Fs) *Manager {
	t.Helper()
	m, err := NewManager(ManagerOptions{
		Root:      testRoot,
		Store:     NewStore(fs, nil),
		Transport: transport,
	})
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	return m
}

// waitFor 轮询 cond 直到成立或超时。
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

var errBoom = errors.New("boom")
