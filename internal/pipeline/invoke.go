package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"datasmith/internal/diag"
	"datasmith/internal/prompt"
	"datasmith/internal/rate"
	"datasmith/pkg/contract"
)

// 重试退避：200ms·2^n，上限 5s。
const (
	backoffBase = 200 * time.Millisecond
	backoffMax  = 5 * time.Second
)

// DefaultRequestTimeout: 单次模型调用的默认超时。
const DefaultRequestTimeout = 60 * time.Second

// invoke 发送一次工作单元：Gate → 单次超时 → LLM → decode，瞬时错误与无效回复有限次重试。
// decode 失败视为该次尝试失败；最终失败返回最后一个错误。
func invoke(ctx context.Context, comp Components, set Settings, req contract.Request, log *zap.Logger, decode func(contract.Raw) error, fields ...zap.Field) error {
	tokens := prompt.RequestTokens(req, set.BytesPerToken)
	attempts := set.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	timeout := set.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := sleepWithCtx(ctx, backoff(attempt-1)); err != nil {
				return err
			}
		}
		af := append([]zap.Field{zap.String("kind", string(req.Kind)), zap.Int("attempt", attempt+1), zap.Int("tokens", tokens)}, fields...)
		if set.Gate != nil {
			if err := set.Gate.Wait(ctx, rate.Ask{Key: set.GateKey, Requests: 1, Tokens: tokens}); err != nil {
				// Gate 错误不重试（取消或单请求超限）
				diag.Fail(log, "gate", "wait failed", err, af...)
				return fmt.Errorf("gate wait: %w", err)
			}
		}

		timer := diag.Start(log, "llm_client", "complete", af...)
		actx, cancel := context.WithTimeout(ctx, timeout)
		raw, err := comp.LLM.Complete(actx, req)
		cancel()
		if err != nil {
			diag.Fail(log, "llm_client", "complete failed", err, af...)
			lastErr = err
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if shouldRetryInvoke(err) {
				continue
			}
			return err
		}
		timer.Finish("complete", int64(tokens))

		if err := decode(raw); err != nil {
			diag.Fail(log, "decoder", "decode failed", err, af...)
			lastErr = err
			if shouldRetryDecode(err) {
				continue
			}
			return err
		}
		return nil
	}
	return lastErr
}

// shouldRetryInvoke: 网络/上游 5xx/限流重试；取消、单请求超限与输入非法不重试。
// 单次超时（父 ctx 仍有效）按网络抖动处理。
func shouldRetryInvoke(err error) bool {
	if err == nil {
		return false
	}
	code := diag.Classify(err)
	if code == diag.CodeCancel {
		return errors.Is(err, context.DeadlineExceeded)
	}
	return code.Transient()
}

// shouldRetryDecode: 回复无效（模型幻觉/格式错误）时重试。
func shouldRetryDecode(err error) bool {
	return err != nil && diag.Classify(err) == diag.CodeProtocol
}

func backoff(n int) time.Duration {
	d := backoffBase
	for i := 0; i < n && d < backoffMax; i++ {
		d *= 2
	}
	if d > backoffMax {
		d = backoffMax
	}
	return d
}

// sleepWithCtx: 可取消的 sleep。
func sleepWithCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
