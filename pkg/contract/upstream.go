package contract

// UpstreamError 由模型客户端返回，携带上游的 HTTP 状态与错误信息；
// 日志据此输出 http_status 与 upstream_msg 字段。
type UpstreamError interface {
	error
	UpstreamStatus() int
	UpstreamMessage() string
}
