package diag

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"datasmith/pkg/contract"
)

// 日志文件默认目录与轮转阈值。
const (
	DefaultLogDir   = "logs"
	DefaultLogBytes = 10 * 1024 * 1024
)

// ParseLevel 将配置中的级别字符串映射为 zap 级别；未知值按 info。
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewLogger 构造结构化日志器：JSON 单行写入 dir 下的轮转文件，warn 及以上同时写 stderr。
// 返回的 closer 关闭文件句柄（在 Sync 之后调用）。
func NewLogger(corrID, level, dir string) (*zap.Logger, func() error, error) {
	if strings.TrimSpace(dir) == "" {
		dir = DefaultLogDir
	}
	sink := NewRotatingFile(dir, DefaultLogBytes, DefaultLogKeep)
	if err := sink.Open(); err != nil {
		return nil, nil, fmt.Errorf("open log sink: %w", err)
	}
	lvl := zap.NewAtomicLevelAt(ParseLevel(level))
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.RFC3339TimeEncoder
	encCfg.EncodeDuration = zapcore.MillisDurationEncoder

	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(sink), lvl)
	errCore := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.Lock(consoleSyncer{os.Stderr}), zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= zapcore.WarnLevel && lvl.Enabled(l)
	}))
	l := zap.New(zapcore.NewTee(fileCore, errCore)).With(zap.String("corr_id", corrID))
	return l, sink.Close, nil
}

// consoleSyncer: 管道与终端不支持 fsync（EINVAL/ENOTTY），此类错误不影响日志完整性。
type consoleSyncer struct{ *os.File }

func (c consoleSyncer) Sync() error {
	err := c.File.Sync()
	if errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) {
		return nil
	}
	return err
}

// upstreamMsgLimit: upstream_msg 字段的最大字节数。
const upstreamMsgLimit = 200

// clip 截断到不超过 n 字节，且不拆开多字节字符。
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Timer 用于 start→finish 计时；nil 安全。
type Timer struct {
	l      *zap.Logger
	comp   string
	fields []zap.Field
	t0     time.Time
}

// Start 记录 start 事件并返回计时器。fields 会附加到 start/finish 两个事件。
func Start(l *zap.Logger, comp, msg string, fields ...zap.Field) *Timer {
	if l == nil {
		return nil
	}
	l.Debug(msg, append([]zap.Field{zap.String("comp", comp), zap.String("stage", "start")}, fields...)...)
	return &Timer{l: l, comp: comp, fields: fields, t0: time.Now()}
}

// Finish 记录 finish；count 为本阶段处理的数量。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	fs := append([]zap.Field{
		zap.String("comp", t.comp),
		zap.String("stage", "finish"),
		zap.Int64("dur_ms", time.Since(t.t0).Milliseconds()),
		zap.Int64("count", count),
	}, t.fields...)
	t.l.Info(msg, fs...)
}

// Since 返回计时器起点以来的时长；nil 返回 0。
func (t *Timer) Since() time.Duration {
	if t == nil {
		return 0
	}
	return time.Since(t.t0)
}

// Fail 记录 error 事件：code 由 Classify 得出；上游 HTTP 错误附带 http_status/upstream_msg。
// 取消类错误降级为 warn。
func Fail(l *zap.Logger, comp, msg string, err error, fields ...zap.Field) {
	if l == nil || err == nil {
		return
	}
	code := Classify(err)
	fs := append([]zap.Field{
		zap.String("comp", comp),
		zap.String("stage", "error"),
		zap.String("code", string(code)),
		zap.Error(err),
	}, fields...)
	var ue contract.UpstreamError
	if errors.As(err, &ue) {
		fs = append(fs, zap.Int("http_status", ue.UpstreamStatus()))
		if m := strings.TrimSpace(ue.UpstreamMessage()); m != "" {
			fs = append(fs, zap.String("upstream_msg", clip(m, upstreamMsgLimit)))
		}
	}
	if code == CodeCancel {
		l.Warn(msg, fs...)
		return
	}
	l.Error(msg, fs...)
}

// Column/Batch: 常用字段构造。
func Column(name string) zap.Field { return zap.String("column", name) }
func Batch(idx int) zap.Field      { return zap.Int("batch", idx) }
