// Package capture 实现截图流水线：参数校验、浏览器会话、导航、截图、转码。
//
// 每个请求使用独立的浏览器进程，步骤严格顺序执行：
//
//	validate -> launch -> navigate -> capture -> encode -> close
//
// 任何一步失败都会跳过后续步骤，但只要会话已经建立就一定会关闭。
package capture

import (
	"context"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/xiaocaoooo/mobile-screenshot/internal/errs"
)

// 流水线阶段名，用于日志和指标
const (
	StageLaunch   = "launch"
	StageNavigate = "navigate"
	StageCapture  = "capture"
	StageEncode   = "encode"
	StageRelease  = "release"
)

// Recorder 接收每个阶段的耗时和结果。
type Recorder interface {
	ObserveStage(stage string, d time.Duration, err error)
	SessionOpened()
	SessionClosed()
}

type nopRecorder struct{}

func (nopRecorder) ObserveStage(string, time.Duration, error) {}
func (nopRecorder) SessionOpened()                            {}
func (nopRecorder) SessionClosed()                            {}

// Pipeline 编排一次截图请求
type Pipeline struct {
	launcher  Launcher
	navigator Navigator
	encoder   Encoder
	recorder  Recorder
	logger    *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithNavigator(n Navigator) Option {
	return func(p *Pipeline) { p.navigator = n }
}

func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.recorder = r
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

func NewPipeline(launcher Launcher, encoder Encoder, opts ...Option) *Pipeline {
	p := &Pipeline{
		launcher:  launcher,
		navigator: DefaultNavigator(),
		encoder:   encoder,
		recorder:  nopRecorder{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(zap.String("component", "pipeline"))
	return p
}

// Handle validates q and runs the capture.
func (p *Pipeline) Handle(ctx context.Context, q url.Values) (*Image, error) {
	params, err := ParseParams(q)
	if err != nil {
		return nil, err
	}
	return p.Capture(ctx, params)
}

// Capture runs launch, navigate, capture and encode for params. The session
// is released exactly once before Capture returns; a release failure is
// logged and never replaces the result.
func (p *Pipeline) Capture(ctx context.Context, params Params) (*Image, error) {
	log := p.logger.With(
		zap.String("url", params.URL),
		zap.Int("width", params.Width),
		zap.Int("height", params.Height),
		zap.Bool("full_page", params.FullPage),
		zap.Int("quality", params.Quality),
	)

	start := time.Now()
	sess, err := p.launcher.Launch(ctx, params.Viewport())
	p.recorder.ObserveStage(StageLaunch, time.Since(start), err)
	if err != nil {
		return nil, wrap(err, errs.CodeLaunch, "Failed to launch browser")
	}
	p.recorder.SessionOpened()
	defer p.release(sess, log)

	start = time.Now()
	err = p.navigator.Navigate(ctx, sess, params.URL)
	p.recorder.ObserveStage(StageNavigate, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	start = time.Now()
	bmp, err := sess.Capture(ctx, params.FullPage)
	p.recorder.ObserveStage(StageCapture, time.Since(start), err)
	if err != nil {
		return nil, wrap(err, errs.CodeCapture, "Failed to capture screenshot")
	}

	start = time.Now()
	img, err := p.encoder.Encode(bmp, params.Quality)
	p.recorder.ObserveStage(StageEncode, time.Since(start), err)
	if err != nil {
		return nil, wrap(err, errs.CodeEncoding, "Failed to encode image")
	}

	log.Debug("pipeline: captured",
		zap.Int("bitmap_width", bmp.Width),
		zap.Int("bitmap_height", bmp.Height),
		zap.Int("bytes", len(img.Data)))
	return img, nil
}

func (p *Pipeline) release(sess Session, log *zap.Logger) {
	start := time.Now()
	err := sess.Close()
	p.recorder.ObserveStage(StageRelease, time.Since(start), err)
	p.recorder.SessionClosed()
	if err != nil {
		log.Warn("pipeline: session release failed", zap.Error(err))
	}
}

// wrap 保留已经分类的错误，其他错误归入 code
func wrap(err error, code errs.Code, msg string) error {
	if errs.CodeOf(err) != "" {
		return err
	}
	return errs.New(code, msg).WithCause(err)
}
