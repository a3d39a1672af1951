package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xiaocaoooo/mobile-screenshot/internal/capture"
	"github.com/xiaocaoooo/mobile-screenshot/internal/errs"
)

const (
	cacheControl = "public, max-age=60"

	methodNotAllowedMessage = "Method not allowed. Use GET."
	fallbackMessage         = "Screenshot failed"
)

// statusFor 配置错误属于部署问题返回 500，其余请求级错误都是 400
func statusFor(err error) int {
	if errs.CodeOf(err) == errs.CodeConfiguration {
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

func writeImage(c *gin.Context, img *capture.Image) {
	c.Header("Cache-Control", cacheControl)
	c.Data(http.StatusOK, img.MIMEType, img.Data)
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": errs.Message(err, fallbackMessage)})
}

func writeMethodNotAllowed(c *gin.Context) {
	c.Header("Allow", http.MethodGet)
	c.JSON(http.StatusMethodNotAllowed, gin.H{"error": methodNotAllowedMessage})
}
