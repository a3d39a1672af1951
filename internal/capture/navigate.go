package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xiaocaoooo/mobile-screenshot/internal/errs"
)

const (
	DefaultNavigationTimeout = 30 * time.Second
	DefaultIdleConnections   = 2
	DefaultIdleWindow        = 500 * time.Millisecond
)

// Navigator 驱动页面导航并等待网络稳定（等价于 networkidle2）。
type Navigator struct {
	Timeout time.Duration
	Idle    IdleCondition
}

// DefaultNavigator allows at most two open connections for 500ms within a
// 30s budget.
func DefaultNavigator() Navigator {
	return Navigator{
		Timeout: DefaultNavigationTimeout,
		Idle:    IdleCondition{MaxInflight: DefaultIdleConnections, Quiet: DefaultIdleWindow},
	}
}

// Navigate loads url in s and waits for network stability. It returns a
// TIMEOUT error when the budget runs out and a NAVIGATION error for any
// other fault.
func (n Navigator) Navigate(ctx context.Context, s Session, url string) error {
	timeout := n.Timeout
	if timeout <= 0 {
		timeout = DefaultNavigationTimeout
	}
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.Goto(navCtx, url); err != nil {
		return n.classify(navCtx, timeout, err)
	}
	if err := s.WaitIdle(navCtx, n.Idle); err != nil {
		return n.classify(navCtx, timeout, err)
	}
	return nil
}

func (n Navigator) classify(navCtx context.Context, timeout time.Duration, err error) error {
	if errors.Is(navCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		msg := fmt.Sprintf("Navigation timeout of %d ms exceeded", timeout.Milliseconds())
		return errs.New(errs.CodeTimeout, msg).WithCause(err)
	}

	var le *LoadError
	if errors.As(err, &le) {
		return errs.New(errs.CodeNavigation, le.Error()).WithCause(err)
	}
	return errs.New(errs.CodeNavigation, "Navigation failed").WithCause(err)
}
