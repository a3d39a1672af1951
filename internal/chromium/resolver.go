// Package chromium 把进程级的浏览器定位配置解析成可以启动的可执行文件。
//
// 定位配置有两种形式：
//   - http/https 地址：指向一个 chromium pack（tar 包，成员为 brotli 压缩），
//     首次使用时下载并解包到缓存目录；
//   - 其他任意字符串：视为本地可执行文件路径。
package chromium

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"go.uber.org/zap"
)

const (
	executableName = "chromium"
	libDir         = "al2023/lib"

	downloadTimeout = 2 * time.Minute
)

// Executable 是解析后的浏览器：路径和需要额外注入到浏览器进程的环境变量。
type Executable struct {
	Path string
	Env  []string
}

// Resolver 解析并缓存浏览器可执行文件。只缓存成功的结果，失败下次请求会重试解析。
type Resolver struct {
	locator  string
	cacheDir string
	client   *http.Client
	logger   *zap.Logger

	mu       sync.Mutex
	resolved *Executable
}

// NewResolver creates a Resolver for locator. cacheDir receives unpacked pack
// contents; client may be nil.
func NewResolver(locator, cacheDir string, client *http.Client, logger *zap.Logger) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: downloadTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		locator:  strings.TrimSpace(locator),
		cacheDir: cacheDir,
		client:   client,
		logger:   logger.With(zap.String("component", "chromium")),
	}
}

// Resolve returns the browser executable, downloading and unpacking the pack
// on first use.
func (r *Resolver) Resolve(ctx context.Context) (*Executable, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.resolved != nil {
		return r.resolved, nil
	}
	if r.locator == "" {
		return nil, errors.New("chromium: empty locator")
	}

	var (
		exe *Executable
		err error
	)
	if isRemote(r.locator) {
		exe, err = r.resolvePack(ctx)
	} else {
		exe, err = resolveLocal(r.locator)
	}
	if err != nil {
		return nil, err
	}

	r.logger.Info("chromium: executable resolved", zap.String("path", exe.Path))
	r.resolved = exe
	return exe, nil
}

func isRemote(locator string) bool {
	u, err := url.Parse(locator)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func resolveLocal(path string) (*Executable, error) {
	path = strings.TrimPrefix(path, "file://")
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("chromium: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("chromium: %s is a directory", path)
	}
	return &Executable{Path: path}, nil
}

func (r *Resolver) resolvePack(ctx context.Context) (*Executable, error) {
	exePath := filepath.Join(r.cacheDir, executableName)

	// 缓存目录里已经有解包好的浏览器，直接复用
	if info, err := os.Stat(exePath); err == nil && !info.IsDir() {
		r.logger.Debug("chromium: reusing unpacked executable", zap.String("path", exePath))
		return r.executable(exePath), nil
	}

	if err := os.MkdirAll(r.cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("chromium: create cache dir: %w", err)
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.locator, nil)
	if err != nil {
		return nil, fmt.Errorf("chromium: build pack request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chromium: download pack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("chromium: pack download returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := unpack(resp.Body, r.cacheDir); err != nil {
		return nil, err
	}

	info, err := os.Stat(exePath)
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("chromium: pack does not contain %s.br", executableName)
	}

	r.logger.Info("chromium: pack unpacked",
		zap.String("url", r.locator),
		zap.String("dir", r.cacheDir),
		zap.Duration("duration", time.Since(start)))

	return r.executable(exePath), nil
}

func (r *Resolver) executable(path string) *Executable {
	exe := &Executable{Path: path}
	lib := filepath.Join(r.cacheDir, libDir)
	if info, err := os.Stat(lib); err == nil && info.IsDir() {
		ld := lib
		if cur := os.Getenv("LD_LIBRARY_PATH"); cur != "" {
			ld = lib + string(os.PathListSeparator) + cur
		}
		exe.Env = append(exe.Env, "LD_LIBRARY_PATH="+ld)
	}
	return exe
}

// unpack 解包 chromium pack：
//   - xxx.tar.br：brotli 解压后再作为 tar 解到 dir
//   - xxx.br：brotli 解压后写成 dir/xxx（可执行）
//
// 其他成员忽略。
func unpack(r io.Reader, dir string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("chromium: read pack: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		name := filepath.Base(hdr.Name)
		switch {
		case strings.HasSuffix(name, ".tar.br"):
			if err := untar(brotli.NewReader(tr), dir); err != nil {
				return fmt.Errorf("chromium: unpack %s: %w", name, err)
			}
		case strings.HasSuffix(name, ".br"):
			target := filepath.Join(dir, strings.TrimSuffix(name, ".br"))
			if err := writeFile(target, brotli.NewReader(tr), 0o755); err != nil {
				return fmt.Errorf("chromium: unpack %s: %w", name, err)
			}
		}
	}
}

func untar(r io.Reader, dir string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		target, err := safeJoin(dir, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, os.FileMode(hdr.Mode).Perm()|0o400); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if filepath.IsAbs(hdr.Linkname) {
				return fmt.Errorf("illegal symlink in archive: %q -> %q", hdr.Name, hdr.Linkname)
			}
			if _, err := safeJoin(dir, filepath.Join(filepath.Dir(hdr.Name), hdr.Linkname)); err != nil {
				return err
			}
			_ = os.Remove(target)
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		}
	}
}

// safeJoin 拒绝解包到 dir 之外的路径
func safeJoin(dir, name string) (string, error) {
	target := filepath.Join(dir, name)
	rel, err := filepath.Rel(dir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("illegal path in archive: %q", name)
	}
	return target, nil
}

func writeFile(path string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
