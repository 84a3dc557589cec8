package filesystem

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"datasmith/pkg/contract"
)

// Options 为 FileSystem Reader 的可选配置（最小必要）。
type Options struct {
	// BufSize 为读缓冲区大小（字节）。默认 64KiB。
	BufSize int `json:"buf_size"`
	// BaseDir: 非空时相对 id 基于该目录解析，且禁止逃逸（绝对路径与 '..' 均拒绝）。
	BaseDir string `json:"base_dir"`
	// Extensions: 允许的扩展名（不区分大小写，例如 [".csv"]）；为空不限制。
	Extensions []string `json:"extensions"`
}

// FileSystem 实现基于文件系统与 STDIN 的 Reader。
type FileSystem struct {
	bufSize int
	baseDir string
	exts    map[string]struct{}
}

// New 创建 FileSystem Reader。
func New(opts *Options) *FileSystem {
	const defaultBuf = 64 * 1024
	r := &FileSystem{bufSize: defaultBuf, exts: map[string]struct{}{}}
	if opts == nil {
		return r
	}
	if opts.BufSize > 0 {
		r.bufSize = opts.BufSize
	}
	r.baseDir = opts.BaseDir
	for _, e := range opts.Extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		r.exts[e] = struct{}{}
	}
	return r
}

var _ contract.Reader = (*FileSystem)(nil)

// Open 打开单个常规文件；"-" 表示 STDIN。
// 不存在时返回包裹 ErrInputMissing 的错误；目录与非常规文件视为非法输入。
func (r *FileSystem) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if id == "-" {
		// STDIN 不归属调用方关闭
		return newBufferedCloser(io.NopCloser(os.Stdin), r.bufSize), nil
	}
	p, err := r.resolve(id)
	if err != nil {
		return nil, err
	}
	if len(r.exts) > 0 {
		if _, ok := r.exts[strings.ToLower(filepath.Ext(p))]; !ok {
			return nil, fmt.Errorf("open %s: %w: unsupported extension", id, contract.ErrInvalidInput)
		}
	}
	// 跟随符号链接，只接受最终指向常规文件的路径
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("open %s: %w", id, contract.ErrInputMissing)
		}
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("open %s: %w: not a regular file", id, contract.ErrInvalidInput)
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	return newBufferedCloser(f, r.bufSize), nil
}

// resolve 将 id 映射为本地路径；配置 BaseDir 时约束在其内部。
func (r *FileSystem) resolve(id string) (string, error) {
	if strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("empty id: %w", contract.ErrPathInvalid)
	}
	if r.baseDir == "" {
		return filepath.FromSlash(contract.NormalizeID(id)), nil
	}
	rel := contract.NormalizeID(id)
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("id %q escapes base dir: %w", id, contract.ErrPathInvalid)
	}
	return filepath.Join(r.baseDir, filepath.FromSlash(rel)), nil
}

// bufferedCloser 将 bufio.Reader 与底层 Closer 组合为 ReadCloser。
type bufferedCloser struct {
	*bufio.Reader
	c io.Closer
}

func newBufferedCloser(c io.ReadCloser, bufSize int) *bufferedCloser {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	return &bufferedCloser{Reader: bufio.NewReaderSize(c, bufSize), c: c}
}

func (b *bufferedCloser) Close() error { return b.c.Close() }
