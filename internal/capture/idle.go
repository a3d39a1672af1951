package capture

import (
	"context"
	"sync"
	"time"
)

// IdleTracker 统计页面在途的网络请求，供 WaitIdle 判断网络是否稳定。
// 和 Chrome 的 networkAlmostIdle 一样，只有导航到的文档触发 DOMContentLoaded
// 之后才开始计算空闲窗口。
// Begin/End/DocumentLoaded 由 CDP 事件回调调用，可以和 Wait 并发。
type IdleTracker struct {
	mu       sync.Mutex
	inflight map[string]struct{}
	loaded   map[string]struct{} // 已触发 DOMContentLoaded 的 loader
	expected string
	pending  bool // 已调用 Expect
	changed  chan struct{}
}

func NewIdleTracker() *IdleTracker {
	return &IdleTracker{
		inflight: make(map[string]struct{}),
		loaded:   make(map[string]struct{}),
		changed:  make(chan struct{}),
	}
}

// Expect 设置本次导航对应的 loader。空 loader 表示同文档导航，不会有新的 DOMContentLoaded。
func (t *IdleTracker) Expect(loaderID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expected, t.pending = loaderID, true
	t.notifyLocked()
}

// DocumentLoaded 记录 loader 的 DOMContentLoaded。事件可能早于 Expect 到达。
func (t *IdleTracker) DocumentLoaded(loaderID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.loaded[loaderID]; ok {
		return
	}
	t.loaded[loaderID] = struct{}{}
	t.notifyLocked()
}

// Ready reports whether the expected document has reached DOMContentLoaded.
func (t *IdleTracker) Ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readyLocked()
}

func (t *IdleTracker) readyLocked() bool {
	if !t.pending {
		return false
	}
	if t.expected == "" {
		return true
	}
	_, ok := t.loaded[t.expected]
	return ok
}

// Begin 记录一个请求开始。重定向会复用相同 id，不会重复计数。
func (t *IdleTracker) Begin(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.inflight[id]; ok {
		return
	}
	t.inflight[id] = struct{}{}
	t.notifyLocked()
}

// End 记录一个请求结束（完成或失败）。
func (t *IdleTracker) End(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.inflight[id]; !ok {
		return
	}
	delete(t.inflight, id)
	t.notifyLocked()
}

// Reset 清空计数和文档状态，在每次导航开始前调用。
func (t *IdleTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight = make(map[string]struct{})
	t.loaded = make(map[string]struct{})
	t.expected, t.pending = "", false
	t.notifyLocked()
}

func (t *IdleTracker) Inflight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}

func (t *IdleTracker) notifyLocked() {
	close(t.changed)
	t.changed = make(chan struct{})
}

func (t *IdleTracker) snapshot() (int, bool, <-chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight), t.readyLocked(), t.changed
}

// Wait blocks until the expected document has fired DOMContentLoaded and at
// most cond.MaxInflight requests have then been outstanding for an
// uninterrupted cond.Quiet, or ctx ends. Count changes that stay within the
// threshold do not restart the quiet window.
func (t *IdleTracker) Wait(ctx context.Context, cond IdleCondition) error {
	var (
		timer  *time.Timer
		quiet  <-chan time.Time
		stopTm = func() {
			if timer != nil {
				timer.Stop()
				timer, quiet = nil, nil
			}
		}
	)
	defer stopTm()

	for {
		n, ready, changed := t.snapshot()
		if !ready || n > cond.MaxInflight {
			stopTm()
		} else if timer == nil {
			timer = time.NewTimer(cond.Quiet)
			quiet = timer.C
		}

		select {
		case <-quiet:
			return nil
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
