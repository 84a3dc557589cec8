// Package jsonx 提供从模型回复中抽取 JSON 片段的小工具。
package jsonx

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Span 返回 text 中第一个 open 到最后一个 close 之间（含两端）的片段。
// 找不到或顺序颠倒时 ok=false。
func Span(text string, open, close byte) (string, bool) {
	i := strings.IndexByte(text, open)
	j := strings.LastIndexByte(text, close)
	if i < 0 || j < i {
		return "", false
	}
	return text[i : j+1], true
}

// Unmarshal 先整体严格解析；失败时退回到 open..close 片段再解析一次。
func Unmarshal(text string, open, close byte, v any) error {
	trimmed := strings.TrimSpace(text)
	err := json.Unmarshal([]byte(trimmed), v)
	if err == nil {
		return nil
	}
	frag, ok := Span(trimmed, open, close)
	if !ok {
		return err
	}
	return json.Unmarshal([]byte(frag), v)
}

// IsNull 报告原始值是否为 JSON null（或为空）。
func IsNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// Stringify 把标量/复合 JSON 值转为单元格文本：
// 字符串取其内容；数字、布尔保持字面；对象/数组压缩为紧凑 JSON。
func Stringify(raw json.RawMessage) string {
	t := bytes.TrimSpace(raw)
	if len(t) == 0 {
		return ""
	}
	if t[0] == '"' {
		var s string
		if err := json.Unmarshal(t, &s); err == nil {
			return s
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, t); err == nil {
		return buf.String()
	}
	return string(t)
}

// Int 解析整数：接受 JSON 数字（含 3.0 之类的整值浮点）或数字字符串。
func Int(raw json.RawMessage) (int, bool) {
	t := bytes.TrimSpace(raw)
	if len(t) == 0 {
		return 0, false
	}
	s := string(t)
	if t[0] == '"' {
		if err := json.Unmarshal(t, &s); err != nil {
			return 0, false
		}
		s = strings.TrimSpace(s)
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}
