package fewshot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"datasmith/pkg/contract"
	"datasmith/pkg/dataset"
)

func products(t *testing.T, n int) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.New([]string{"Title", "Price"})
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		rec := dataset.NewRecord()
		rec.Put("Title", dataset.Str(fmt.Sprintf("item-%d", i)))
		if i%2 == 0 {
			rec.Put("Price", dataset.Str(fmt.Sprintf("%d.00", i)))
		}
		_, err := ds.AppendRow(rec)
		require.NoError(t, err)
	}
	return ds
}

func TestBuildRequestSmallDataset(t *testing.T) {
	s, err := New(&Options{Seed: 7})
	require.NoError(t, err)
	req, err := s.BuildRequest(context.Background(), products(t, 2), 3, "A product catalog")
	require.NoError(t, err)

	require.Equal(t, contract.KindRows, req.Kind)
	require.Equal(t, 3, req.Size)
	require.Equal(t, []string{"Title", "Price"}, req.Columns)
	require.Equal(t, 2000, req.Params.MaxTokens)
	require.InDelta(t, 0.7, *req.Params.Temperature, 1e-9)

	user := req.Messages[1].Content
	require.Contains(t, user, "Dataset description: A product catalog")
	require.Contains(t, user, "The dataset has the following columns: Title, Price")
	require.Contains(t, user, "Row 1:\n  Title: item-0\n  Price: 0.00\n")
	// 空值列不出现在样例中
	require.Contains(t, user, "Row 2:\n  Title: item-1\n\n")
	require.Contains(t, user, "Please generate 3 new rows")
	require.Contains(t, user, "IMPORTANT: Make sure to include ALL columns")
}

func TestBuildRequestSamplesAtMostFive(t *testing.T) {
	s, _ := New(&Options{Seed: 42})
	req, err := s.BuildRequest(context.Background(), products(t, 40), 1, "")
	require.NoError(t, err)
	user := req.Messages[1].Content
	require.Equal(t, 5, strings.Count(user, "Row "))
	require.NotContains(t, user, "Dataset description")
}

func TestBuildRequestErrors(t *testing.T) {
	s, _ := New(nil)
	empty, _ := dataset.New([]string{"a"})
	_, err := s.BuildRequest(context.Background(), empty, 2, "")
	require.True(t, errors.Is(err, contract.ErrInvalidInput))
	_, err = s.BuildRequest(context.Background(), products(t, 1), 0, "")
	require.True(t, errors.Is(err, contract.ErrInvalidInput))
	_, err = New(&Options{SampleSize: -1})
	require.Error(t, err)
}

func TestDecodeExactAndTruncate(t *testing.T) {
	s, _ := New(nil)
	raw := contract.Raw{Text: "Here:\n[{\"Title\": \"x\", \"Price\": 3.5, \"Brand\": null}, {\"Price\": \"1\", \"Title\": \"y\"}, {\"Title\": \"z\"}]"}
	recs, err := s.Decode(context.Background(), raw, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	require.Equal(t, []string{"Title", "Price", "Brand"}, recs[0].Keys)
	c, _ := recs[0].Get("Price")
	require.Equal(t, dataset.Str("3.5"), c)
	c, _ = recs[0].Get("Brand")
	require.False(t, c.Valid)
	require.Equal(t, []string{"Price", "Title"}, recs[1].Keys)
}

func TestDecodeAllOrNothing(t *testing.T) {
	s, _ := New(nil)
	for _, text := range []string{
		"no json",
		`[{"Title":"x"}]`,
		`[{"Title":"x"}, "bad"]`,
		`[{"Title":"x"}, {"Title":]`,
	} {
		_, err := s.Decode(context.Background(), contract.Raw{Text: text}, 2)
		require.Truef(t, errors.Is(err, contract.ErrResponseInvalid), "text %q: %v", text, err)
	}
}
