package diag

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Terminal: 终端信息提示（非日志）。
// - 输出到提供的 io.Writer（默认 stderr）。
// - TTY: 单行 \r 覆盖进度，结束时以 lipgloss 渲染摘要；非 TTY: 关键节点分行打印。
// - 并发安全；写失败后进入禁用态为 no-op。
type Terminal struct {
	w       io.Writer
	enabled bool
	isTTY   bool

	concurrency int
	llm         string
	runStart    time.Time

	// 进行中的列：列名 → 进度
	active map[string]*colProgress
	order  []string

	lastLen   int
	lastFlush time.Time

	mu sync.Mutex
}

type colProgress struct {
	done, total, errs int
	start             time.Time
}

// 进程级终端（可选，全局设置后供 pipeline 旁路调用）。
var (
	termMu sync.RWMutex
	term   *Terminal
)

// SetTerminal 设置全局终端指针（nil 可清除）。
func SetTerminal(t *Terminal) { termMu.Lock(); term = t; termMu.Unlock() }

// GetTerminal 返回全局终端（可能为 nil）。
func GetTerminal() *Terminal { termMu.RLock(); defer termMu.RUnlock(); return term }

// NewTerminal 构造终端提示器。enabled=false 时总是 no-op。
func NewTerminal(w io.Writer, enabled bool) *Terminal {
	if w == nil {
		w = os.Stderr
	}
	t := &Terminal{w: w, enabled: enabled, active: map[string]*colProgress{}}
	// CI 环境视为非 TTY
	if os.Getenv("CI") == "" {
		if f, ok := w.(*os.File); ok {
			t.isTTY = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
		}
	}
	return t
}

// RunStart: 记录运行上下文（并发、LLM、输入行数）。
func (t *Terminal) RunStart(concurrency int, llm string, rows int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.concurrency = concurrency
	t.llm = llm
	t.runStart = time.Now()
	t.active = map[string]*colProgress{}
	t.order = nil
	t.println(fmt.Sprintf("[run] rows=%d | 并发=%d | llm=%s", rows, concurrency, safe(llm)))
}

// RowsFinish: 行合成结束。
func (t *Terminal) RowsFinish(ok bool, requested, added int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.clearInline()
	status := "done"
	if !ok {
		status = "fail"
	}
	t.println(fmt.Sprintf("[rows:%s] 请求 %d | 新增 %d", status, requested, added))
}

// ColumnStart: 标记列开始与计划批次。
func (t *Terminal) ColumnStart(col string, batches int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	name := shorten(col, 32)
	if _, ok := t.active[name]; !ok {
		t.order = append(t.order, name)
	}
	t.active[name] = &colProgress{total: batches, start: time.Now()}
	if !t.isTTY {
		t.println(fmt.Sprintf("[column] %s | 计划批次=%d", name, batches))
	}
}

// ColumnProgress: 周期性进度（TTY 下 ≥100ms 节流）。
func (t *Terminal) ColumnProgress(col string, done, errs int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	p, ok := t.active[shorten(col, 32)]
	if !ok {
		return
	}
	p.done, p.errs = done, errs
	if !t.isTTY {
		return
	}
	now := time.Now()
	if now.Sub(t.lastFlush) < 100*time.Millisecond {
		return
	}
	t.lastFlush = now
	parts := make([]string, 0, len(t.order))
	for _, name := range t.order {
		if cp := t.active[name]; cp != nil {
			parts = append(parts, fmt.Sprintf("%s %d/%d", name, cp.done, cp.total))
		}
	}
	t.printInline(fmt.Sprintf("[column] %s | 并发 %d | 用时 %s", strings.Join(parts, " · "), t.concurrency, formatSince(t.runStart)))
}

// ColumnFinish: 完成一列（立即换行输出）。
func (t *Terminal) ColumnFinish(col string, ok bool) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	name := shorten(col, 32)
	p := t.active[name]
	if p == nil {
		p = &colProgress{start: time.Now()}
	}
	delete(t.active, name)
	for i, n := range t.order {
		if n == name {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	status := "done"
	if !ok {
		status = "fail"
	}
	t.clearInline()
	t.println(fmt.Sprintf("[%s] %s | 批次 %d | 失败 %d | 用时 %s", status, name, p.total, p.errs, formatDur(time.Since(p.start))))
}

// RunFinish: 结束总览；stats 为有序键值，TTY 下渲染为带边框的表。
func (t *Terminal) RunFinish(ok bool, dur time.Duration, stats [][2]string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.clearInline()
	tag := "ok"
	if !ok {
		tag = "fail"
	}
	head := fmt.Sprintf("[%s] 全部完成 | 总用时 %s", tag, formatDur(dur))
	if !t.isTTY {
		t.println(head)
		for _, kv := range stats {
			t.println(fmt.Sprintf("  %s: %s", kv[0], kv[1]))
		}
		return
	}
	t.println(RenderSummary(head, stats))
}

// RenderSummary 以 lipgloss 渲染摘要框。
func RenderSummary(title string, stats [][2]string) string {
	keyStyle := lipgloss.NewStyle().Bold(true)
	width := 0
	for _, kv := range stats {
		if l := visLen(kv[0]); l > width {
			width = l
		}
	}
	lines := make([]string, 0, len(stats)+1)
	lines = append(lines, lipgloss.NewStyle().Bold(true).Render(title))
	for _, kv := range stats {
		lines = append(lines, keyStyle.Width(width+1).Render(kv[0]+":")+" "+kv[1])
	}
	return lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1).Render(strings.Join(lines, "\n"))
}

func (t *Terminal) clearInline() {
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
		_, _ = io.WriteString(t.w, "\r")
		t.lastLen = 0
	}
}

func (t *Terminal) println(s string) {
	if !t.enabled {
		return
	}
	if _, err := io.WriteString(t.w, s+"\n"); err != nil {
		t.enabled = false
	}
	t.lastLen = 0
}

func (t *Terminal) printInline(s string) {
	if !t.enabled {
		return
	}
	// 新行比旧行短时以空格覆盖残留
	pad := 0
	if l := visLen(s); t.lastLen > l {
		pad = t.lastLen - l
	}
	var b strings.Builder
	b.WriteByte('\r')
	b.WriteString(s)
	if pad > 0 {
		b.WriteString(strings.Repeat(" ", pad))
	}
	if _, err := io.WriteString(t.w, b.String()); err != nil {
		t.enabled = false
		return
	}
	t.lastLen = visLen(s)
}

// shorten 按可见宽度截断（尾部省略号）。
func shorten(s string, max int) string {
	s = safe(strings.TrimSpace(s))
	if max <= 0 || visLen(s) <= max {
		return s
	}
	rs := []rune(s)
	return string(rs[:max-1]) + "…"
}

func visLen(s string) int { return len([]rune(s)) }

func safe(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "\r", " ")
}

func formatSince(t0 time.Time) string { return formatDur(time.Since(t0)) }

func formatDur(d time.Duration) string {
	if d < time.Second {
		ms := d.Milliseconds()
		if ms < 0 {
			ms = 0
		}
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(d.Milliseconds())/1000.0)
}
