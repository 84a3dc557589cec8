package contract

import (
	"context"
	"io"
)

// Writer 持久化编码后的数据集或变更记录。
// 按字节透传 r，不解析内容；同一 id 同时只有一个写者；ctx 取消后尽快返回；不做重试。
type Writer interface {
	Write(ctx context.Context, id string, r io.Reader) error
}
