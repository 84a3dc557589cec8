package rate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"datasmith/pkg/contract"
)

// LimitKey: 限流分组键。同一 client 且同一 API Key 的请求共享额度。
type LimitKey string

// Limits: 分组限额；0 表示该维度不限。
type Limits struct {
	RPM             int // 每分钟请求数
	TPM             int // 每分钟 token 数
	MaxTokensPerReq int // 单次请求估算 token 上限
}

// Ask: 一次模型调用申请的额度。
type Ask struct {
	Key      LimitKey
	Requests int
	Tokens   int
}

// Gate 在模型调用前按分组放行（并发安全）。
type Gate interface {
	// Wait 阻塞到额度可用或 ctx 结束；单次申请超过分组容量时立即返回 ErrBudgetExceeded。
	Wait(ctx context.Context, a Ask) error
}

// minWait: 两次检查之间的最短间隔。
const minWait = 10 * time.Millisecond

// Limiter: 按分组维护请求/token 两个按分钟连续补充的额度。
type Limiter struct {
	now   func() time.Time
	mu    sync.Mutex
	pools map[LimitKey]*pool
}

// NewGate 以静态限额构造 Limiter；clk 为空时使用 time.Now。未配置的分组不限额。
func NewGate(limits map[LimitKey]Limits, clk func() time.Time) *Limiter {
	if clk == nil {
		clk = time.Now
	}
	l := &Limiter{now: clk, pools: make(map[LimitKey]*pool, len(limits))}
	t0 := clk()
	for k, lim := range limits {
		l.pools[k] = newPool(lim, t0)
	}
	return l
}

var _ Gate = (*Limiter)(nil)

type pool struct {
	mu     sync.Mutex
	lim    Limits
	calls  meter
	tokens meter
}

func newPool(lim Limits, t0 time.Time) *pool {
	return &pool{lim: lim, calls: newMeter(lim.RPM, t0), tokens: newMeter(lim.TPM, t0)}
}

// meter: 容量 perMinute、满额起步、线性补充的计数器；perMinute<=0 时关闭。
type meter struct {
	capacity float64
	avail    float64
	at       time.Time
}

func newMeter(perMinute int, t0 time.Time) meter {
	if perMinute <= 0 {
		return meter{}
	}
	c := float64(perMinute)
	return meter{capacity: c, avail: c, at: t0}
}

func (m *meter) off() bool { return m.capacity <= 0 }

func (m *meter) advance(now time.Time) {
	if m.off() || !now.After(m.at) {
		// 时钟回拨视为未流逝
		return
	}
	m.avail += now.Sub(m.at).Minutes() * m.capacity
	if m.avail > m.capacity {
		m.avail = m.capacity
	}
	m.at = now
}

// shortfall 返回凑够 n 还需等待的时长；额度足够时为 0。
func (m *meter) shortfall(n int) time.Duration {
	if m.off() || n <= 0 {
		return 0
	}
	missing := float64(n) - m.avail
	if missing <= 0 {
		return 0
	}
	return time.Duration(missing / m.capacity * float64(time.Minute))
}

func (m *meter) take(n int) {
	if m.off() {
		return
	}
	m.avail -= float64(n)
	if m.avail < 0 {
		m.avail = 0
	}
}

// reserve 在额度足够时扣减并返回 0，否则返回需等待的时长（不扣减）。
func (p *pool) reserve(now time.Time, a Ask) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls.advance(now)
	p.tokens.advance(now)
	wait := max(p.calls.shortfall(a.Requests), p.tokens.shortfall(a.Tokens))
	if wait == 0 {
		p.calls.take(a.Requests)
		p.tokens.take(a.Tokens)
	}
	return wait
}

// check 拒绝永远无法满足的申请。
func (p *pool) check(a Ask) error {
	switch {
	case p.lim.MaxTokensPerReq > 0 && a.Tokens > p.lim.MaxTokensPerReq:
		return fmt.Errorf("rate: %w: request needs %d tokens, limit %d", contract.ErrBudgetExceeded, a.Tokens, p.lim.MaxTokensPerReq)
	case p.lim.TPM > 0 && a.Tokens > p.lim.TPM:
		return fmt.Errorf("rate: %w: request needs %d tokens, tpm %d", contract.ErrBudgetExceeded, a.Tokens, p.lim.TPM)
	case p.lim.RPM > 0 && a.Requests > p.lim.RPM:
		return fmt.Errorf("rate: %w: %d requests exceed rpm %d", contract.ErrBudgetExceeded, a.Requests, p.lim.RPM)
	}
	return nil
}

func (l *Limiter) pool(key LimitKey) *pool {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := l.pools[key]
	if p == nil {
		p = newPool(Limits{}, l.now())
		l.pools[key] = p
	}
	return p
}

// Wait 实现 Gate。
func (l *Limiter) Wait(ctx context.Context, a Ask) error {
	if a.Requests <= 0 || a.Tokens < 0 {
		return fmt.Errorf("rate: %w: requests=%d tokens=%d", contract.ErrInvalidInput, a.Requests, a.Tokens)
	}
	p := l.pool(a.Key)
	if err := p.check(a); err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		wait := p.reserve(l.now(), a)
		if wait == 0 {
			return nil
		}
		t := time.NewTimer(max(wait, minWait))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Available 返回分组当前可用的请求数与 token 数；-1 表示该维度不限。
func (l *Limiter) Available(key LimitKey) (calls, tokens int) {
	p := l.pool(key)
	now := l.now()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls.advance(now)
	p.tokens.advance(now)
	calls, tokens = -1, -1
	if !p.calls.off() {
		calls = int(p.calls.avail)
	}
	if !p.tokens.off() {
		tokens = int(p.tokens.avail)
	}
	return calls, tokens
}
