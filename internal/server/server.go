// Package server 提供截图服务的 HTTP 入口。
package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xiaocaoooo/mobile-screenshot/internal/capture"
	"github.com/xiaocaoooo/mobile-screenshot/internal/errs"
)

// Capturer 执行一次截图请求，由 capture.Pipeline 实现。
type Capturer interface {
	Handle(ctx context.Context, q url.Values) (*capture.Image, error)
}

// Options 构造 Server 所需依赖
type Options struct {
	Capturer Capturer
	// ConfigErr 非空时所有截图请求直接返回 500，不做任何请求级处理
	ConfigErr error
	Metrics   *Metrics
	Logger    *zap.Logger
}

type Server struct {
	engine    *gin.Engine
	capturer  Capturer
	configErr error
	metrics   *Metrics
	logger    *zap.Logger
}

const requestIDHeader = "X-Request-ID"

var errNoCapturer = errs.New(errs.CodeConfiguration, "Screenshot pipeline is not configured")

func New(opts Options) *Server {
	s := &Server{
		capturer:  opts.Capturer,
		configErr: opts.ConfigErr,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.With(zap.String("component", "http"))
	if s.metrics == nil {
		s.metrics = NewMetrics("screenshot")
	}
	if s.capturer == nil && s.configErr == nil {
		s.configErr = errNoCapturer
	}

	r := gin.New()
	r.Use(s.recovery(), s.metrics.middleware(), s.requestLogger())

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	r.Any("/api/screenshot", s.handleScreenshot)
	r.Any("/screenshot", s.handleScreenshot)

	s.engine = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleScreenshot(c *gin.Context) {
	if c.Request.Method != http.MethodGet {
		writeMethodNotAllowed(c)
		return
	}

	// 部署级配置缺失先于任何请求级处理
	if s.configErr != nil {
		s.metrics.RecordCapture(s.configErr)
		writeError(c, s.configErr)
		return
	}

	img, err := s.capturer.Handle(c.Request.Context(), c.Request.URL.Query())
	if err == nil && (img == nil || len(img.Data) == 0) {
		err = errors.New("empty image")
	}
	s.metrics.RecordCapture(err)
	if err != nil {
		s.logger.Info("screenshot failed",
			zap.String("url", c.Query("url")),
			zap.String("code", string(errs.CodeOf(err))),
			zap.Error(err))
		writeError(c, err)
		return
	}

	writeImage(c, img)
}

func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	payload := gin.H{
		"status":             "ok",
		"time":               time.Now().UTC().Format(time.RFC3339),
		"browser_configured": s.configErr == nil,
	}
	if s.configErr != nil {
		status = http.StatusServiceUnavailable
		payload["status"] = "degraded"
		payload["details"] = errs.Message(s.configErr, s.configErr.Error())
	}
	c.JSON(status, payload)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		reqID := c.GetHeader(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(requestIDHeader, reqID)

		c.Next()

		s.logger.Info("request",
			zap.String("request_id", reqID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", c.ClientIP()),
		)
	}
}

func (s *Server) recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, rec any) {
		s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", c.Request.URL.Path))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	})
}
