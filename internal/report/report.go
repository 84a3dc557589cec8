package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Change: 一次单元格写回。Before 为 nil 表示原值为空值。
type Change struct {
	Row    int64   `json:"row"`
	Column string  `json:"column"`
	Before *string `json:"before"`
	After  string  `json:"after"`
}

// WriteChanges 以 JSONL 形式写出变更（每行一个对象，不转义 HTML）。
func WriteChanges(w io.Writer, changes []Change) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for i := range changes {
		if err := enc.Encode(&changes[i]); err != nil {
			return fmt.Errorf("report: encode change %d: %w", i, err)
		}
	}
	return nil
}

// ChangesJSONL 返回变更的 JSONL 字节，供 Writer 流式写出。
func ChangesJSONL(changes []Change) (io.Reader, error) {
	var buf bytes.Buffer
	if err := WriteChanges(&buf, changes); err != nil {
		return nil, err
	}
	return &buf, nil
}

// Stat: 行级差异计数。
type Stat struct {
	Added   int
	Removed int
}

// LineDiff 计算逐行差异并渲染为 "+"/"-"/" " 前缀的文本。
func LineDiff(before, after string) (string, Stat) {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	var out strings.Builder
	var st Stat
	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		}
		for _, line := range splitLines(d.Text) {
			switch d.Type {
			case diffmatchpatch.DiffInsert:
				st.Added++
			case diffmatchpatch.DiffDelete:
				st.Removed++
			}
			out.WriteString(prefix)
			out.WriteString(line)
			out.WriteByte('\n')
		}
	}
	return out.String(), st
}

// splitLines 按 \n 切分；末尾换行不产生空行，\r\n 的 \r 去除。
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.TrimSuffix(s, "\n")
	parts := strings.Split(s, "\n")
	for i, p := range parts {
		parts[i] = strings.TrimSuffix(p, "\r")
	}
	return parts
}
