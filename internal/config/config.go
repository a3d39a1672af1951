// Package config 保存进程级配置：启动时解析一次，之后只读。
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xiaocaoooo/mobile-screenshot/internal/capture"
	"github.com/xiaocaoooo/mobile-screenshot/internal/errs"
)

const (
	DefaultPort              = "8080"
	DefaultNavigationTimeout = capture.DefaultNavigationTimeout
	DefaultIdleConnections   = capture.DefaultIdleConnections
	DefaultIdleWindow        = capture.DefaultIdleWindow
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "json"

	missingPackURLMessage = "Missing CHROMIUM_PACK_URL env var. Point this to your chromium-v#-pack.tar."
)

// Config 进程级配置
type Config struct {
	Port string

	// ChromiumPackURL 指向打包好的浏览器（http/https 的 tar 包地址，或本地可执行文件路径）
	ChromiumPackURL string

	// ChromiumCacheDir 浏览器解包目录
	ChromiumCacheDir string

	NavigationTimeout time.Duration
	IdleConnections   int
	IdleWindow        time.Duration

	ShutdownTimeout time.Duration

	LogLevel  string
	LogFormat string
}

// Default returns a Config with every optional setting filled in.
// ChromiumPackURL is left empty.
func Default() Config {
	return Config{
		Port:              DefaultPort,
		ChromiumCacheDir:  filepath.Join(os.TempDir(), "chromium"),
		NavigationTimeout: DefaultNavigationTimeout,
		IdleConnections:   DefaultIdleConnections,
		IdleWindow:        DefaultIdleWindow,
		ShutdownTimeout:   DefaultShutdownTimeout,
		LogLevel:          DefaultLogLevel,
		LogFormat:         DefaultLogFormat,
	}
}

// Normalize trims string settings and replaces non-positive tunables with
// their defaults.
func (c Config) Normalize() Config {
	d := Default()

	c.Port = strings.TrimSpace(c.Port)
	if c.Port == "" {
		c.Port = d.Port
	}
	c.ChromiumPackURL = strings.TrimSpace(c.ChromiumPackURL)
	c.ChromiumCacheDir = strings.TrimSpace(c.ChromiumCacheDir)
	if c.ChromiumCacheDir == "" {
		c.ChromiumCacheDir = d.ChromiumCacheDir
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = d.NavigationTimeout
	}
	// 0 是合法阈值（完全空闲），负数才回退默认
	if c.IdleConnections < 0 {
		c.IdleConnections = d.IdleConnections
	}
	if c.IdleWindow <= 0 {
		c.IdleWindow = d.IdleWindow
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	if c.LogFormat == "" {
		c.LogFormat = d.LogFormat
	}
	return c
}

// Validate reports a CONFIGURATION error when the browser locator is absent.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ChromiumPackURL) == "" {
		return errs.New(errs.CodeConfiguration, missingPackURLMessage).WithField("CHROMIUM_PACK_URL")
	}
	return nil
}

// Addr is the listen address derived from Port.
func (c Config) Addr() string {
	if strings.Contains(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}
