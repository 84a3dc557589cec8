package contract

import (
	"path"
	"strings"
)

// NormalizeID 规范化路径型标识，统一为跨平台稳定形式。
// 规则：
// - 使用正斜杠分隔符
// - 清理多余分隔符与路径片段（.、..）
// - 保留相对/绝对语义，不做隐式绝对化
func NormalizeID(p string) string {
	return path.Clean(strings.ReplaceAll(p, `\`, "/"))
}
