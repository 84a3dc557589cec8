package contract

import "errors"

// 数据集读写与额度相关的哨兵错误；调用方以 errors.Is 判定。
var (
	// ErrInputMissing: 输入 CSV 不存在，运行在任何模型调用之前即失败。
	ErrInputMissing = errors.New("input missing")
	// ErrPathInvalid: 输出标识为空或逃出输出目录。
	ErrPathInvalid = errors.New("path invalid")
	// ErrBudgetExceeded: 单次请求估算 token 超出 provider 上限，重试无意义。
	ErrBudgetExceeded = errors.New("budget exceeded")
	// ErrInvariantViolation: 数据集结构被破坏（如行列数不一致）。
	ErrInvariantViolation = errors.New("invariant violation")
)
