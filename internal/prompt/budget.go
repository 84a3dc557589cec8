package prompt

import "datasmith/pkg/contract"

// MakeEstimator 返回一个近似 token 估算器：tokens ≈ ceil(len(utf8_bytes)/bytesPerToken)。
// 当 bytesPerToken<=0 时采用默认 4。
func MakeEstimator(bytesPerToken int) contract.TokenEstimator {
	bpt := bytesPerToken
	if bpt <= 0 {
		bpt = 4
	}
	return func(s string) int {
		n := len(s)
		if n == 0 {
			return 0
		}
		return (n + bpt - 1) / bpt
	}
}

// RequestTokens 估算一次请求的 token 占用：全部消息文本 + 期望输出上限（Params.MaxTokens）。
// 用于限流闸门的 TPM 与单请求上限判定。
func RequestTokens(req contract.Request, bytesPerToken int) int {
	est := MakeEstimator(bytesPerToken)
	total := 0
	for _, m := range req.Messages {
		total += est(m.Content)
	}
	if req.Params.MaxTokens > 0 {
		total += req.Params.MaxTokens
	}
	return total
}
