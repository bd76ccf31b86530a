package cache

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// PrefetchReport 汇总一次批量预取的结果，按输入条目计数（重复 URL 各计一次）。
type PrefetchReport struct {
	Requested int `json:"requested"`
	// Skipped 是非 http(s) 条目。
	Skipped int `json:"skipped"`
	// Hits 是开始处理时已在磁盘上的条目。
	Hits int `json:"hits"`
	// Downloaded 是经下载得到文件的条目，包括加入其它 worker 进行中下载的条目，
	// 因此可能大于实际的上游请求数。
	Downloaded int `json:"downloaded"`
	Failed     int `json:"failed"`
}

// Merge 返回两份统计之和，用于按 Origin 分批预取后的汇总。
func (r PrefetchReport) Merge(other PrefetchReport) PrefetchReport {
	return PrefetchReport{
		Requested:  r.Requested + other.Requested,
		Skipped:    r.Skipped + other.Skipped,
		Hits:       r.Hits + other.Hits,
		Downloaded: r.Downloaded + other.Downloaded,
		Failed:     r.Failed + other.Failed,
	}
}

// workQueue 是所有 worker 共享的 URL 队列，重复 URL 会保留。
type workQueue struct {
	mu   sync.Mutex
	urls []string
	next int
}

func newWorkQueue(urls []string) *workQueue {
	return &workQueue{urls: append([]string(nil), urls...)}
}

func (q *workQueue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.next >= len(q.urls) {
		return "", false
	}
	url := q.urls[q.next]
	q.next++
	return url, true
}

type prefetchCounters struct {
	skipped, hits, downloaded, failed atomic.Int64
}

// prefetch 启动 worker 并等待全部退出。worker 数默认等于 URL 数，
// 同一路径的并发请求由 Coordinator 合并；limit > 0 时作为上限。
func (m *Manager) prefetch(ctx context.Context, urls []string, opts Options, limit int) (PrefetchReport, error) {
	report := PrefetchReport{Requested: len(urls)}
	if len(urls) == 0 {
		return report, nil
	}

	workers := len(urls)
	if limit > 0 && limit < workers {
		workers = limit
	}

	queue := newWorkQueue(urls)
	var counters prefetchCounters
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			return m.prefetchWorker(gctx, queue, opts, &counters)
		})
	}
	err := g.Wait()

	report.Skipped = int(counters.skipped.Load())
	report.Hits = int(counters.hits.Load())
	report.Downloaded = int(counters.downloaded.Load())
	report.Failed = int(counters.failed.Load())
	m.metrics.RecordPrefetch(ctx, report)
	return report, err
}

func (m *Manager) prefetchWorker(ctx context.Context, queue *workQueue, opts Options, counters *prefetchCounters) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		url, ok := queue.pop()
		if !ok {
			return nil
		}
		if !IsCacheable(url) {
			counters.skipped.Add(1)
			continue
		}
		if _, err := m.GetCachedImagePath(ctx, url, opts); err == nil {
			counters.hits.Add(1)
			continue
		}
		if _, err := m.CacheImage(ctx, url, opts); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			counters.failed.Add(1)
			m.logger.WithError(err).WithFields(logrus.Fields{
				"action": "prefetch",
				"url":    url,
			}).Warn("prefetch_item_failed")
			continue
		}
		counters.downloaded.Add(1)
	}
}
