package nl

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"datasmith/pkg/contract"
)

func TestBuildRequest(t *testing.T) {
	p, _ := New(&Options{ExtraRules: []string{"Never touch the SKU column", " "}})
	req, err := p.BuildRequest(context.Background(), "categorize items as edible or inedible", []string{"Title", "Description"})
	require.NoError(t, err)
	require.Equal(t, contract.KindPlan, req.Kind)
	require.Equal(t, []string{"Title", "Description"}, req.Columns)
	require.Equal(t, "You are a helpful assistant.", req.Messages[0].Content)
	user := req.Messages[1].Content
	require.Contains(t, user, "columns: Title, Description")
	require.Contains(t, user, "The user wants to: categorize items as edible or inedible")
	require.Contains(t, user, "6. Never touch the SKU column\n")
	require.NotContains(t, user, "7.")
	require.Equal(t, 1000, req.Params.MaxTokens)

	_, err = p.BuildRequest(context.Background(), "  ", nil)
	require.True(t, errors.Is(err, contract.ErrInvalidInput))
}

func TestDecodeWithProse(t *testing.T) {
	p, _ := New(nil)
	text := "Sure, here is the config:\n```json\n" +
		`{"column_context": {"Popularity": ["Title", "Price"], "Category": ["Title"]}, "batch_sizes": {"Popularity": 5}, "transformation_instructions": {"Category": "Edible or Inedible"}}` +
		"\n```\nLet me know!"
	plan, err := p.Decode(context.Background(), contract.Raw{Text: text})
	require.NoError(t, err)
	require.Equal(t, []string{"Popularity", "Category"}, plan.ColumnContext.Targets())
	require.Equal(t, 5, plan.BatchSize("Popularity"))
	require.Equal(t, contract.DefaultBatchSize, plan.BatchSize("Category"))
	require.Equal(t, "Edible or Inedible", plan.Instruction("Category"))
	require.Equal(t, 0, plan.GenerateRows)
	require.NotNil(t, plan.IgnoreValuedColumns)
}

func TestDecodeRowsOnlyClearsColumnMaps(t *testing.T) {
	p, _ := New(nil)
	text := `{"column_context": {}, "batch_sizes": {"X": 3}, "ignore_valued_columns": {"X": true}, "transformation_instructions": {"X": "y"}, "generate_rows": 5, "dataset_description": "catalog"}`
	plan, err := p.Decode(context.Background(), contract.Raw{Text: text})
	require.NoError(t, err)
	require.Equal(t, 5, plan.GenerateRows)
	require.Empty(t, plan.BatchSizes)
	require.Empty(t, plan.IgnoreValuedColumns)
	require.Empty(t, plan.TransformationInstructions)
	require.Equal(t, "catalog", plan.DatasetDescription)
}

func TestDecodeKeepsMapsWhenColumnsConfigured(t *testing.T) {
	p, _ := New(nil)
	text := `{"column_context": {"P": ["T"]}, "batch_sizes": {"P": 4}, "generate_rows": 10}`
	plan, err := p.Decode(context.Background(), contract.Raw{Text: text})
	require.NoError(t, err)
	require.Equal(t, 4, plan.BatchSize("P"))
	require.Equal(t, 10, plan.GenerateRows)
}

// 数值字段不规范时保留其余配置，而不是整体回落为空配置
func TestDecodeLenientNumbers(t *testing.T) {
	p, _ := New(nil)
	text := `{"column_context": {"Category": ["Name"], "Note": []}, "batch_sizes": {"Category": 0, "Note": "4"}, "generate_rows": 5.0}`
	plan, err := p.Decode(context.Background(), contract.Raw{Text: text})
	require.NoError(t, err)
	require.Equal(t, []string{"Category", "Note"}, plan.ColumnContext.Targets())
	require.Equal(t, contract.DefaultBatchSize, plan.BatchSize("Category"))
	require.Equal(t, 4, plan.BatchSize("Note"))
	require.Equal(t, 5, plan.GenerateRows)
	require.NoError(t, plan.Validate())

	plan, err = p.Decode(context.Background(), contract.Raw{Text: `{"column_context": {"A": []}, "batch_sizes": {"A": -2.5}, "generate_rows": null}`})
	require.NoError(t, err)
	require.Equal(t, contract.DefaultBatchSize, plan.BatchSize("A"))
	require.Zero(t, plan.GenerateRows)
	require.Empty(t, plan.BatchSizes)
}

func TestDecodeInvalid(t *testing.T) {
	p, _ := New(nil)
	for _, text := range []string{
		"I cannot help with that",
		`{"column_context": [1,2]}`,
		`{"generate_rows": -3}`,
		`{"generate_rows": "many"}`,
		`{"generate_rows": 2.5}`,
		"} backwards {",
	} {
		_, err := p.Decode(context.Background(), contract.Raw{Text: text})
		require.Truef(t, errors.Is(err, contract.ErrResponseInvalid), "text %q: %v", text, err)
	}
}
