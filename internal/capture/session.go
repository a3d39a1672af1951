package capture

import (
	"context"
	"time"
)

// Bitmap 是浏览器截图的原始输出（PNG），生成后不再修改。
type Bitmap struct {
	Data   []byte
	Width  int
	Height int
}

// Image 是最终返回给调用方的压缩图像。
type Image struct {
	Data     []byte
	MIMEType string
}

// IdleCondition 网络稳定判定：在途连接数不超过 MaxInflight 并持续 Quiet。
type IdleCondition struct {
	MaxInflight int
	Quiet       time.Duration
}

// Session 独占一个浏览器进程和其中的一个页面，只在单个请求内使用。
type Session interface {
	// Goto 发起导航，浏览器报告加载错误（DNS、连接拒绝等）时立即返回 *LoadError。
	Goto(ctx context.Context, url string) error
	// WaitIdle 阻塞直到网络满足 cond 或 ctx 结束。
	WaitIdle(ctx context.Context, cond IdleCondition) error
	// Capture 截取当前页面，fullPage 为 true 时截取视口之外的内容。
	Capture(ctx context.Context, fullPage bool) (*Bitmap, error)
	// Close 结束浏览器进程，必须且只调用一次。
	Close() error
}

// Launcher 为一次请求启动独立的浏览器会话。
type Launcher interface {
	Launch(ctx context.Context, vp Viewport) (Session, error)
}

// Encoder 把 Bitmap 转码为压缩格式。
type Encoder interface {
	Encode(b *Bitmap, quality int) (*Image, error)
}

// LoadError 浏览器导航失败时给出的错误文本，例如 net::ERR_NAME_NOT_RESOLVED。
type LoadError struct {
	Text string
	URL  string
}

func (e *LoadError) Error() string {
	return e.Text + " at " + e.URL
}
