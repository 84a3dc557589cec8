package csv

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"datasmith/pkg/contract"
	"datasmith/pkg/dataset"
)

func TestDecodeNullAndOrder(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)
	in := "name,price,note\napple,1.2,\nbanana,,ripe\n"
	ds, err := c.Decode(context.Background(), strings.NewReader(in))
	require.NoError(t, err)
	require.Equal(t, []string{"name", "price", "note"}, ds.Columns())
	require.Equal(t, []dataset.RowID{0, 1}, ds.IDs())

	cell, _ := ds.Get(0, "note")
	require.False(t, cell.Valid, "空字段应为 null")
	cell, _ = ds.Get(1, "price")
	require.False(t, cell.Valid)
	cell, _ = ds.Get(1, "note")
	require.Equal(t, "ripe", cell.Value)
}

func TestRoundTripIdentical(t *testing.T) {
	c, _ := New(nil)
	in := "id,city,comment\n1,Paris,\"quoted, with comma\"\n2,,\n3,\"multi\nline\",x\n"
	ds, err := c.Decode(context.Background(), strings.NewReader(in))
	require.NoError(t, err)
	var out bytes.Buffer
	require.NoError(t, c.Encode(context.Background(), &out, ds))
	require.Equal(t, in, out.String())
}

func TestDecodeBOMAndShortRows(t *testing.T) {
	c, _ := New(nil)
	in := "\xEF\xBB\xBFa,b\n1\n"
	ds, err := c.Decode(context.Background(), strings.NewReader(in))
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ds.Columns())
	cell, _ := ds.Get(0, "b")
	require.False(t, cell.Valid)
}

func TestDecodeErrors(t *testing.T) {
	c, _ := New(nil)
	_, err := c.Decode(context.Background(), strings.NewReader(""))
	require.ErrorIs(t, err, contract.ErrInvalidInput)
	_, err = c.Decode(context.Background(), strings.NewReader("a,a\n1,2\n"))
	require.ErrorIs(t, err, contract.ErrInvalidInput)
}

func TestDelimiterOption(t *testing.T) {
	c, err := New(&Options{Delimiter: ";"})
	require.NoError(t, err)
	ds, err := c.Decode(context.Background(), strings.NewReader("a;b\n1;2\n"))
	require.NoError(t, err)
	var out bytes.Buffer
	require.NoError(t, c.Encode(context.Background(), &out, ds))
	require.Equal(t, "a;b\n1;2\n", out.String())

	_, err = New(&Options{Delimiter: "::"})
	require.ErrorIs(t, err, contract.ErrInvalidInput)
}

func TestEncodeNewColumnsAndRows(t *testing.T) {
	c, _ := New(nil)
	ds, _ := c.Decode(context.Background(), strings.NewReader("a\n1\n"))
	ds.AddColumn("b")
	rec := dataset.NewRecord()
	rec.Put("a", dataset.Str("2"))
	rec.Put("b", dataset.Str("x"))
	_, err := ds.AppendRow(rec)
	require.NoError(t, err)
	var out bytes.Buffer
	require.NoError(t, c.Encode(context.Background(), &out, ds))
	require.Equal(t, "a,b\n1,\n2,x\n", out.String())
}

// 单列数据集中的空值行在往返后仍然存在
func TestSingleColumnNullRowSurvives(t *testing.T) {
	for _, crlf := range []bool{false, true} {
		c, err := New(&Options{CRLF: crlf})
		require.NoError(t, err)
		ds, err := dataset.New([]string{"Title"})
		require.NoError(t, err)
		for _, cell := range []dataset.Cell{dataset.Str("a"), dataset.Null(), dataset.Str("c")} {
			_, err := ds.AppendRow(dataset.Record{Keys: []string{"Title"}, Values: map[string]dataset.Cell{"Title": cell}})
			require.NoError(t, err)
		}

		var out bytes.Buffer
		require.NoError(t, c.Encode(context.Background(), &out, ds))
		want := "Title\na\n\"\"\nc\n"
		if crlf {
			want = strings.ReplaceAll(want, "\n", "\r\n")
		}
		require.Equal(t, want, out.String())

		back, err := c.Decode(context.Background(), &out)
		require.NoError(t, err)
		require.Equal(t, 3, back.Len())
		cell, _ := back.Get(1, "Title")
		require.False(t, cell.Valid)
		cell, _ = back.Get(2, "Title")
		require.Equal(t, "c", cell.Value)
	}
}
