package capture

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeSession 按配置模拟各阶段的行为，并记录调用次数。
type fakeSession struct {
	mu sync.Mutex

	gotoErr    error
	hangIdle   bool
	captureErr error
	closeErr   error
	bitmap     *Bitmap

	gotoURL    string
	fullPage   bool
	idleCond   IdleCondition
	closeCalls int
	events     []string
}

func (s *fakeSession) record(ev string) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *fakeSession) Goto(ctx context.Context, url string) error {
	s.record("goto")
	s.gotoURL = url
	return s.gotoErr
}

func (s *fakeSession) WaitIdle(ctx context.Context, cond IdleCondition) error {
	s.record("idle")
	s.idleCond = cond
	if s.hangIdle {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (s *fakeSession) Capture(ctx context.Context, fullPage bool) (*Bitmap, error) {
	s.record("capture")
	s.fullPage = fullPage
	if s.captureErr != nil {
		return nil, s.captureErr
	}
	if s.bitmap != nil {
		return s.bitmap, nil
	}
	return &Bitmap{Data: []byte("png"), Width: 780, Height: 1688}, nil
}

func (s *fakeSession) Close() error {
	s.record("close")
	s.mu.Lock()
	s.closeCalls++
	s.mu.Unlock()
	return s.closeErr
}

func (s *fakeSession) closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

type fakeLauncher struct {
	session   *fakeSession
	err       error
	launches  int
	viewports []Viewport
}

func (l *fakeLauncher) Launch(ctx context.Context, vp Viewport) (Session, error) {
	l.launches++
	l.viewports = append(l.viewports, vp)
	if l.err != nil {
		return nil, l.err
	}
	return l.session, nil
}

type fakeEncoder struct {
	err      error
	calls    int
	quality  int
	received *Bitmap
}

func (e *fakeEncoder) Encode(b *Bitmap, quality int) (*Image, error) {
	e.calls++
	e.quality = quality
	e.received = b
	if e.err != nil {
		return nil, e.err
	}
	return &Image{Data: []byte("RIFF....WEBP"), MIMEType: "image/webp"}, nil
}

var errBoom = errors.New("boom")

var shortNavigator = Navigator{
	Timeout: 50 * time.Millisecond,
	Idle:    IdleCondition{MaxInflight: 2, Quiet: 10 * time.Millisecond},
}
