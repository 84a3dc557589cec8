package csv

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"datasmith/pkg/contract"
	"datasmith/pkg/dataset"
)

// Options: CSV 编解码选项。
type Options struct {
	// Delimiter: 字段分隔符（单个字符），默认 ","。
	Delimiter string `json:"delimiter"`
	// LazyQuotes: 宽松引号解析（容忍字段内未转义的引号）。
	LazyQuotes bool `json:"lazy_quotes"`
	// CRLF: 输出行尾使用 \r\n。
	CRLF bool `json:"crlf"`
}

// Codec: 带表头的 CSV ⇄ Dataset。空字段读为 null，null 写为空字段。
type Codec struct {
	comma rune
	lazy  bool
	crlf  bool
}

// New 创建 CSV 编解码器。
func New(opts *Options) (*Codec, error) {
	c := &Codec{comma: ','}
	if opts == nil {
		return c, nil
	}
	if opts.Delimiter != "" {
		r, n := utf8.DecodeRuneInString(opts.Delimiter)
		if n != len(opts.Delimiter) || r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
			return nil, fmt.Errorf("csv: %w: bad delimiter %q", contract.ErrInvalidInput, opts.Delimiter)
		}
		c.comma = r
	}
	c.lazy = opts.LazyQuotes
	c.crlf = opts.CRLF
	return c, nil
}

var _ contract.Codec = (*Codec)(nil)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Decode 读取表头与全部行；RowID 按行序分配。
func (c *Codec) Decode(ctx context.Context, r io.Reader) (*dataset.Dataset, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	cr := csv.NewReader(br)
	cr.Comma = c.comma
	cr.LazyQuotes = c.lazy
	// 容忍字段数不一致：缺失字段视为空值，多余字段丢弃
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("csv: %w: empty input (missing header)", contract.ErrInvalidInput)
		}
		return nil, fmt.Errorf("csv header: %w: %v", contract.ErrInvalidInput, err)
	}
	ds, err := dataset.New(header)
	if err != nil {
		return nil, fmt.Errorf("csv header: %w: %v", contract.ErrInvalidInput, err)
	}
	for n := 0; ; n++ {
		if n%1024 == 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv row %d: %w: %v", n+1, contract.ErrInvalidInput, err)
		}
		rec := dataset.Record{Keys: header, Values: make(map[string]dataset.Cell, len(header))}
		for i, col := range header {
			if i < len(fields) && fields[i] != "" {
				rec.Values[col] = dataset.Str(fields[i])
			} else {
				rec.Values[col] = dataset.Null()
			}
		}
		if _, err := ds.AppendRow(rec); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

func (c *Codec) eol() string {
	if c.crlf {
		return "\r\n"
	}
	return "\n"
}

// Encode 按列顺序写出表头与全部行。
func (c *Codec) Encode(ctx context.Context, w io.Writer, ds *dataset.Dataset) error {
	cols, rows := ds.Snapshot()
	cw := csv.NewWriter(w)
	cw.Comma = c.comma
	cw.UseCRLF = c.crlf
	if err := cw.Write(cols); err != nil {
		return err
	}
	rec := make([]string, len(cols))
	for n, r := range rows {
		if n%1024 == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		for i, cell := range r {
			rec[i] = cell.Value
			if !cell.Valid {
				rec[i] = ""
			}
		}
		// 单列空值会成为空行，而 encoding/csv 读取时跳过空行；写成 "" 以保留该行
		if len(rec) == 1 && rec[0] == "" {
			cw.Flush()
			if err := cw.Error(); err != nil {
				return err
			}
			if _, err := io.WriteString(w, `""`+c.eol()); err != nil {
				return err
			}
			continue
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
