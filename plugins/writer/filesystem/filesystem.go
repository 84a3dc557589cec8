package filesystem

import (
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

// Options 为文件系统 Writer 的配置。
type Options struct {
	// OutputDir: 输出根目录；为空时 id 即目标路径（CLI 直写）。
	OutputDir string `json:"output_dir"`
	// Atomic: 先写同目录临时文件再 rename，读者不会看到半个 CSV。nil 视为 true。
	Atomic *bool `json:"atomic,omitempty"`
	// Flat: 仅 OutputDir 非空时生效，只保留 id 的文件名。nil 视为 true。
	Flat *bool `json:"flat,omitempty"`
	// Backup: 覆盖已有输出前将其改名为 <name>.bak。
	Backup bool `json:"backup,omitempty"`
}

// FS 将数据集与变更记录写入本地文件。
type FS struct {
	root   string
	atomic bool
	flat   bool
	backup bool
	stdout io.Writer
}

// New 创建文件系统 Writer。
func New(opts *Options) (*FS, error) {
	w := &FS{atomic: true, flat: true, stdout: os.Stdout}
	if opts == nil {
		return w, nil
	}
	w.root = strings.TrimSpace(opts.OutputDir)
	if opts.Atomic != nil {
		w.atomic = *opts.Atomic
	}
	if opts.Flat != nil {
		w.flat = *opts.Flat
	}
	w.backup = opts.Backup
	return w, nil
}

var _ contract.Writer = (*FS)(nil)

// Write 将 r 全部写入 id 对应的文件；id 为 "-" 时写到 STDOUT。
func (w *FS) Write(ctx context.Context, id string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src := &ctxReader{ctx: ctx, r: r}
	if id == "-" {
		_, err := io.Copy(w.stdout, src)
		return err
	}
	dest, err := w.Path(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	if w.atomic {
		return w.replace(dest, src)
	}
	if err := w.keepBackup(dest); err != nil {
		return err
	}
	return overwrite(dest, src)
}

// Path 返回 id 对应的本地路径，不做任何写入。
func (w *FS) Path(id string) (string, error) {
	if strings.TrimSpace(id) == "" || id == "-" {
		return "", contract.ErrPathInvalid
	}
	rel := filepath.Clean(filepath.FromSlash(id))
	switch {
	case rel == ".":
		return "", contract.ErrPathInvalid
	case w.root == "":
		return rel, nil
	case w.flat:
		rel = filepath.Base(rel)
		if rel == ".." || rel == string(filepath.Separator) {
			return "", contract.ErrPathInvalid
		}
	case !filepath.IsLocal(rel):
		// 绝对路径、父级逃逸与 Windows 卷名/保留名
		return "", contract.ErrPathInvalid
	}
	return filepath.Join(w.root, rel), nil
}

func overwrite(dest string, r io.Reader) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// replace 写临时文件并 fsync，成功后才替换 dest；任一步失败都删除临时文件。
func (w *FS) replace(dest string, r io.Reader) (err error) {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	if err = tmp.Chmod(0o644); err != nil && !errors.Is(err, errors.ErrUnsupported) {
		return err
	}
	if _, err = io.Copy(tmp, r); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = w.keepBackup(dest); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("replace %s: %w", dest, err)
	}
	// 父目录 fsync 失败不影响结果
	if d, derr := os.Open(dir); derr == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

func (w *FS) keepBackup(dest string) error {
	if !w.backup {
		return nil
	}
	err := os.Rename(dest, dest+".bak")
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// ctxReader 在每次 Read 前检查取消。
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
