package contract

import (
	"context"
	"io"
)

// Reader 打开输入数据集的原始字节（本地文件或 "-" 表示 STDIN），解码交给 Codec。
// 数据集不存在时返回包裹 ErrInputMissing 的错误；调用方负责 Close。
type Reader interface {
	Open(ctx context.Context, id string) (io.ReadCloser, error)
}
