package diag

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"os"

	"datasmith/pkg/contract"
)

// Code: 日志字段 code 的取值，同时决定流水线是否重试。与退出码无关。
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeNetwork   Code = "network"
	CodeRateLimit Code = "rate_limit"
	CodeProtocol  Code = "protocol"
	CodeInvariant Code = "invariant"
	CodeBudget    Code = "budget"
	CodeCancel    Code = "cancel"
	CodeIO        Code = "io"
)

// sentinels 按顺序匹配；取消必须排在首位，包装了 ctx 错误的上游错误也按取消处理。
var sentinels = []struct {
	code Code
	errs []error
}{
	{CodeCancel, []error{context.Canceled, context.DeadlineExceeded}},
	{CodeRateLimit, []error{contract.ErrRateLimited}},
	{CodeBudget, []error{contract.ErrBudgetExceeded}},
	{CodeProtocol, []error{contract.ErrResponseInvalid}},
	{CodeIO, []error{contract.ErrInputMissing, fs.ErrNotExist}},
	{CodeInvariant, []error{contract.ErrInvariantViolation, contract.ErrInvalidInput, contract.ErrPathInvalid}},
}

// Classify 按哨兵错误与错误类型归类，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	for _, s := range sentinels {
		for _, target := range s.errs {
			if errors.Is(err, target) {
				return s.code
			}
		}
	}
	var perr *os.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	// 连接失败、超时与上游 5xx 都实现 net.Error
	var nerr net.Error
	if errors.As(err, &nerr) {
		return CodeNetwork
	}
	return CodeUnknown
}

// Transient 报告该分类是否可能在重试后消失。单次调用超时由调用方按父 ctx 另行判断。
func (c Code) Transient() bool {
	return c == CodeNetwork || c == CodeRateLimit
}
