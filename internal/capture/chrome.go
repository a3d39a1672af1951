package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/png"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xiaocaoooo/mobile-screenshot/internal/chromium"
	"github.com/xiaocaoooo/mobile-screenshot/internal/errs"
)

const (
	deviceScaleFactor = 2
	maxTouchPoints    = 5

	lifecycleDOMContentLoaded = "DOMContentLoaded"
)

var errSessionClosed = errors.New("capture: session already closed")

// ExecutableResolver 提供浏览器可执行文件，由 chromium.Resolver 实现。
type ExecutableResolver interface {
	Resolve(ctx context.Context) (*chromium.Executable, error)
}

// ChromeLauncher 每次 Launch 启动一个新的 Chrome 进程，不做复用和池化。
type ChromeLauncher struct {
	resolver ExecutableResolver
	logger   *zap.Logger
	seq      atomic.Uint64
}

func NewChromeLauncher(resolver ExecutableResolver, logger *zap.Logger) *ChromeLauncher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromeLauncher{
		resolver: resolver,
		logger:   logger.With(zap.String("component", "browser")),
	}
}

// Launch starts a browser configured for mobile emulation at vp. The returned
// session is Ready; on error everything that was started has been torn down.
func (l *ChromeLauncher) Launch(ctx context.Context, vp Viewport) (Session, error) {
	logger := l.logger.With(zap.Uint64("session", l.seq.Add(1)))

	exe, err := l.resolver.Resolve(ctx)
	if err != nil {
		logger.Debug("browser: resolve failed", zap.Error(err))
		return nil, errs.New(errs.CodeLaunch, "Failed to resolve browser executable").WithCause(err)
	}

	s := newChromeSession(ctx, exe, vp, logger)
	s.transition(StateLaunching)

	if err := s.setup(vp); err != nil {
		s.transition(StateFailed)
		if cerr := s.teardown(); cerr != nil {
			s.logger.Warn("browser: teardown after failed launch", zap.Error(cerr))
		}
		return nil, errs.New(errs.CodeLaunch, "Failed to launch browser").WithCause(err)
	}

	s.logger.Debug("browser: launched",
		zap.String("exec", exe.Path),
		zap.Int("width", vp.Width),
		zap.Int("height", vp.Height))
	s.transition(StateReady)
	return s, nil
}

// newChromeSession 只创建上下文和事件监听，浏览器进程在第一次 Run 时才启动
func newChromeSession(ctx context.Context, exe *chromium.Executable, vp Viewport, logger *zap.Logger) *chromeSession {
	s := &chromeSession{
		tracker: NewIdleTracker(),
		logger:  logger,
	}

	// 调用方断开连接不会中断会话，会话生命周期只由 Close 结束
	base := context.WithoutCancel(ctx)
	s.allocCtx, s.allocCancel = chromedp.NewExecAllocator(base, chromium.AllocatorOptions(exe, vp.Width, vp.Height)...)

	sugar := logger.Sugar()
	s.tabCtx, s.tabCancel = chromedp.NewContext(s.allocCtx,
		chromedp.WithLogf(sugar.Infof),
		chromedp.WithErrorf(sugar.Warnf),
		chromedp.WithDebugf(sugar.Debugf),
	)

	chromedp.ListenTarget(s.tabCtx, s.onEvent)
	return s
}

func (s *chromeSession) onEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		s.tracker.Begin(string(e.RequestID))
	case *network.EventLoadingFinished:
		s.tracker.End(string(e.RequestID))
	case *network.EventLoadingFailed:
		s.tracker.End(string(e.RequestID))
	case *page.EventLifecycleEvent:
		if string(e.Name) == lifecycleDOMContentLoaded {
			s.tracker.DocumentLoaded(string(e.LoaderID))
		}
	}
}

// setup 启动浏览器并开启移动端模拟。首次 Run 必须使用 tabCtx 本身，它负责分配浏览器进程
func (s *chromeSession) setup(vp Viewport) error {
	return chromedp.Run(s.tabCtx,
		network.Enable(),
		page.Enable(),
		page.SetLifecycleEventsEnabled(true),
		emulation.SetDeviceMetricsOverride(int64(vp.Width), int64(vp.Height), deviceScaleFactor, true).
			WithScreenOrientation(&emulation.ScreenOrientation{
				Type:  emulation.OrientationTypePortraitPrimary,
				Angle: 0,
			}),
		emulation.SetTouchEmulationEnabled(true).WithMaxTouchPoints(maxTouchPoints),
		emulation.SetUserAgentOverride(chromium.MobileUserAgent),
	)
}

type chromeSession struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	tracker *IdleTracker
	logger  *zap.Logger

	mu    sync.Mutex
	state State
}

func (s *chromeSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *chromeSession) transition(to State) {
	s.mu.Lock()
	from := s.state
	ok := canTransition(from, to)
	if ok {
		s.state = to
	}
	s.mu.Unlock()

	if !ok {
		s.logger.Warn("browser: invalid state transition", zap.Stringer("from", from), zap.Stringer("to", to))
		return
	}
	s.logger.Debug("browser: state", zap.Stringer("from", from), zap.Stringer("to", to))
}

// bind 把调用方 ctx 的截止时间和取消传递到 tab 上下文，CDP 命令必须在 tab 上下文中执行
func (s *chromeSession) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancelCause(s.tabCtx)
	stop := context.AfterFunc(ctx, func() { cancel(context.Cause(ctx)) })
	return runCtx, func() {
		stop()
		cancel(context.Canceled)
	}
}

func (s *chromeSession) Goto(ctx context.Context, url string) error {
	s.transition(StateNavigating)
	s.tracker.Reset()

	runCtx, done := s.bind(ctx)
	defer done()

	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, loaderID, errorText, _, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return err
		}
		if errorText != "" {
			return &LoadError{Text: errorText, URL: url}
		}
		// 网络稳定的判断从这个文档的 DOMContentLoaded 开始
		s.tracker.Expect(string(loaderID))
		return nil
	}))
	if err != nil {
		s.transition(StateFailed)
		return err
	}
	return nil
}

func (s *chromeSession) WaitIdle(ctx context.Context, cond IdleCondition) error {
	runCtx, done := s.bind(ctx)
	defer done()

	if err := s.tracker.Wait(runCtx, cond); err != nil {
		s.transition(StateFailed)
		return err
	}
	return nil
}

func (s *chromeSession) Capture(ctx context.Context, fullPage bool) (*Bitmap, error) {
	runCtx, done := s.bind(ctx)
	defer done()

	var buf []byte
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		// 优先速度而不是保真度
		shot := page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatPng).
			WithFromSurface(true).
			WithOptimizeForSpeed(true)

		if fullPage {
			_, _, _, _, _, cssContent, err := page.GetLayoutMetrics().Do(ctx)
			if err != nil {
				return err
			}
			if cssContent == nil || cssContent.Width <= 0 || cssContent.Height <= 0 {
				return errors.New("invalid layout content size")
			}
			shot = shot.
				WithCaptureBeyondViewport(true).
				WithClip(&page.Viewport{X: 0, Y: 0, Width: cssContent.Width, Height: cssContent.Height, Scale: 1})
		}

		var err error
		buf, err = shot.Do(ctx)
		return err
	}))
	if err != nil {
		s.transition(StateFailed)
		return nil, err
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(buf))
	if err != nil {
		s.transition(StateFailed)
		return nil, fmt.Errorf("decode screenshot header: %w", err)
	}

	s.transition(StateCaptured)
	return &Bitmap{Data: buf, Width: cfg.Width, Height: cfg.Height}, nil
}

func (s *chromeSession) Close() error {
	if s.State() == StateClosed {
		return errSessionClosed
	}
	return s.teardown()
}

// teardown 优雅关闭浏览器，然后等待进程退出。
func (s *chromeSession) teardown() error {
	err := chromedp.Cancel(s.tabCtx)
	s.tabCancel()
	s.allocCancel()
	s.transition(StateClosed)
	return err
}
