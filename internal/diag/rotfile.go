package diag

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	currentLogName = "datasmith-current.log"
	rotatedPrefix  = "datasmith-"
	rotatedSuffix  = ".log"
	// DefaultLogKeep: 保留的历史日志文件数。
	DefaultLogKeep = 5
)

// RotatingFile 是 zapcore.WriteSyncer：写入 dir/datasmith-current.log，
// 超过 maxBytes 后改名为 datasmith-<UTC 时间戳>.log，并只保留最近 keep 个历史文件。
type RotatingFile struct {
	dir      string
	maxBytes int64
	keep     int

	mu      sync.Mutex
	f       *os.File
	curSize int64
}

// NewRotatingFile 的 maxBytes、keep 非正时取默认值。
func NewRotatingFile(dir string, maxBytes int64, keep int) *RotatingFile {
	if maxBytes <= 0 {
		maxBytes = DefaultLogBytes
	}
	if keep <= 0 {
		keep = DefaultLogKeep
	}
	return &RotatingFile{dir: dir, maxBytes: maxBytes, keep: keep}
}

// Open 立即创建目录与当前文件，权限问题在启动时暴露。
func (w *RotatingFile) Open() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.open()
}

// Write 追加一条日志；zap 每条记录只调用一次，因此单条记录不会被拆到两个文件。
func (w *RotatingFile) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.open(); err != nil {
		return 0, err
	}
	if w.curSize > 0 && w.curSize+int64(len(p)) > w.maxBytes {
		if err := w.roll(); err != nil {
			return 0, err
		}
	}
	n, err := w.f.Write(p)
	w.curSize += int64(n)
	return n, err
}

func (w *RotatingFile) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	return w.f.Sync()
}

func (w *RotatingFile) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

func (w *RotatingFile) open() error {
	if w.f != nil {
		return nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(w.dir, currentLogName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f, w.curSize = f, st.Size()
	return nil
}

func (w *RotatingFile) roll() error {
	_ = w.f.Close()
	w.f = nil
	// 纳秒精度，同秒内多次轮转不会互相覆盖；字典序即时间序
	name := rotatedPrefix + time.Now().UTC().Format("20060102-150405.000000000") + rotatedSuffix
	if err := os.Rename(filepath.Join(w.dir, currentLogName), filepath.Join(w.dir, name)); err != nil {
		return fmt.Errorf("rotate log: %w", err)
	}
	w.prune()
	return w.open()
}

// prune 删除超出 keep 的最旧历史文件；失败只影响磁盘占用。
func (w *RotatingFile) prune() {
	ents, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	var old []string
	for _, e := range ents {
		n := e.Name()
		if n != currentLogName && strings.HasPrefix(n, rotatedPrefix) && strings.HasSuffix(n, rotatedSuffix) {
			old = append(old, n)
		}
	}
	if len(old) <= w.keep {
		return
	}
	slices.Sort(old)
	for _, n := range old[:len(old)-w.keep] {
		_ = os.Remove(filepath.Join(w.dir, n))
	}
}
