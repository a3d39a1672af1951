package chromium

import (
	"github.com/chromedp/chromedp"
)

// MobileUserAgent 固定的移动端 UA
const MobileUserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"

// serverlessFlags 面向无 GPU、无 /dev/shm、单进程沙箱环境的启动参数，
// 在 chromedp.DefaultExecAllocatorOptions 之上追加。
var serverlessFlags = []chromedp.ExecAllocatorOption{
	chromedp.NoSandbox,
	chromedp.Flag("disable-setuid-sandbox", true),
	chromedp.Flag("no-zygote", true),
	chromedp.Flag("single-process", true),
	chromedp.Flag("disable-gpu", true),
	chromedp.Flag("use-gl", "angle"),
	chromedp.Flag("use-angle", "swiftshader"),
	chromedp.Flag("in-process-gpu", true),
	chromedp.Flag("ignore-gpu-blocklist", true),
	chromedp.Flag("disable-domain-reliability", true),
	chromedp.Flag("disable-print-preview", true),
	chromedp.Flag("disable-speech-api", true),
	chromedp.Flag("disable-component-update", true),
	chromedp.Flag("disk-cache-size", "33554432"),
	chromedp.Flag("font-render-hinting", "none"),
	chromedp.Flag("hide-scrollbars", true),
	chromedp.Flag("mute-audio", true),
	chromedp.Flag("no-pings", true),
	chromedp.Flag("allow-running-insecure-content", true),
}

// AllocatorOptions builds the fixed launch configuration for exe. Only the
// window size varies per request.
func AllocatorOptions(exe *Executable, width, height int) []chromedp.ExecAllocatorOption {
	opts := make([]chromedp.ExecAllocatorOption, 0, len(chromedp.DefaultExecAllocatorOptions)+len(serverlessFlags)+4)
	opts = append(opts, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, serverlessFlags...)
	opts = append(opts,
		chromedp.ExecPath(exe.Path),
		chromedp.Headless,
		chromedp.WindowSize(width, height),
		chromedp.UserAgent(MobileUserAgent),
	)
	if len(exe.Env) > 0 {
		opts = append(opts, chromedp.Env(exe.Env...))
	}
	return opts
}
