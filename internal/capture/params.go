package capture

import (
	"math"
	"net/url"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/net/idna"

	"github.com/xiaocaoooo/mobile-screenshot/internal/errs"
)

const (
	DefaultWidth   = 390
	DefaultHeight  = 844
	MinDimension   = 200
	MaxDimension   = 2000
	DefaultQuality = 80
	MinQuality     = 1
	MaxQuality     = 100
)

// Params 是校验后的请求参数，按值传递，构造后不再修改。
type Params struct {
	URL      string
	Width    int
	Height   int
	FullPage bool
	Quality  int
}

// Viewport 视口尺寸
type Viewport struct {
	Width  int
	Height int
}

func (p Params) Viewport() Viewport {
	return Viewport{Width: p.Width, Height: p.Height}
}

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// hostProfile 按浏览器地址栏的规则把主机名转换成 punycode，允许下划线等非 STD3 字符
var hostProfile = idna.New(
	idna.MapForLookup(),
	idna.Transitional(false),
	idna.StrictDomainName(false),
	idna.CheckHyphens(false),
)

var truthy = map[string]struct{}{
	"1":    {},
	"true": {},
	"yes":  {},
	"on":   {},
}

// ParseParams validates raw query values into Params. Only url can fail;
// numeric fields fall back to defaults or are clamped.
func ParseParams(q url.Values) (Params, error) {
	target, err := parseTargetURL(q.Get("url"))
	if err != nil {
		return Params{}, err
	}

	return Params{
		URL:      target,
		Width:    parseIntInRange(q.Get("width"), DefaultWidth, MinDimension, MaxDimension),
		Height:   parseIntInRange(q.Get("height"), DefaultHeight, MinDimension, MaxDimension),
		FullPage: parseBool(q, "fullPage"),
		Quality:  parseIntInRange(q.Get("quality"), DefaultQuality, MinQuality, MaxQuality),
	}, nil
}

func parseTargetURL(raw string) (string, error) {
	if raw == "" {
		return "", errs.New(errs.CodeValidation, "Missing required query param: url").WithField("url")
	}

	invalid := errs.New(errs.CodeValidation, "Invalid url query param").WithField("url")

	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return "", invalid.WithCause(err)
	}
	// 必须是绝对地址
	if u.Scheme == "" {
		return "", invalid
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", errs.New(errs.CodeValidation, "Only http/https URLs are allowed").WithField("url")
	}

	// "http:example.com"、"http:/example.com" 也是绝对地址，斜杠可以省略
	if u.Host == "" && (u.Opaque != "" || u.Path != "") {
		rest := strings.TrimLeft(raw[len(u.Scheme)+1:], `/\`)
		if u, err = url.Parse(scheme + "://" + rest); err != nil {
			return "", invalid.WithCause(err)
		}
	}
	if u.Host == "" || u.Hostname() == "" {
		return "", invalid
	}

	host, err := canonicalHost(u.Hostname())
	if err != nil {
		return "", invalid.WithCause(err)
	}
	if port := u.Port(); port != "" && port != defaultPorts[scheme] {
		host += ":" + port
	}

	// 规范化：scheme 小写，主机名转 punycode，去掉默认端口，空 path 补 "/"
	u.Scheme = scheme
	u.Host = host
	if u.Path == "" && u.RawPath == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

func canonicalHost(name string) (string, error) {
	// IPv6 字面量
	if strings.Contains(name, ":") {
		return "[" + strings.ToLower(name) + "]", nil
	}
	return hostProfile.ToASCII(name)
}

func parseBool(q url.Values, key string) bool {
	if !q.Has(key) {
		return false
	}
	_, ok := truthy[strings.ToLower(q.Get(key))]
	return ok
}

func parseIntInRange(raw string, fallback, lo, hi int) int {
	n, ok := leadingInt(raw)
	if !ok {
		return fallback
	}
	return min(max(n, lo), hi)
}

// leadingInt 解析前导整数：允许前导空白和正负号，忽略数字之后的内容（"300px" -> 300）。
// 超出 int 范围时饱和。
func leadingInt(s string) (int, bool) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)

	neg := false
	if s != "" && (s[0] == '+' || s[0] == '-') {
		neg = s[0] == '-'
		s = s[1:]
	}

	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}

	n, err := strconv.Atoi(s[:end])
	if err != nil {
		// 只剩溢出一种可能
		if neg {
			return math.MinInt, true
		}
		return math.MaxInt, true
	}
	if neg {
		n = -n
	}
	return n, true
}
