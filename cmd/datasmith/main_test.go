package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"datasmith/internal/config"
	"datasmith/internal/pipeline"
	"datasmith/pkg/contract"
)

const products = "name,note\napple,\nbanana,\n"

// workspace 切换到临时目录并写入模板配置与输入文件。
func workspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile("config.yaml", []byte(config.TemplateYAML), 0o644))
	require.NoError(t, os.WriteFile("products.csv", []byte(products), 0o644))
	return dir
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var out, errb bytes.Buffer
	code := execute(context.Background(), args, &out, &errb)
	return code, out.String(), errb.String()
}

// stubRun 替换 pipelineRun 并记录调用参数。
func stubRun(t *testing.T, ret error) *struct {
	called bool
	set    pipeline.Settings
	src    pipeline.PlanSource
} {
	t.Helper()
	rec := &struct {
		called bool
		set    pipeline.Settings
		src    pipeline.PlanSource
	}{}
	orig := pipelineRun
	pipelineRun = func(_ context.Context, _ pipeline.Components, set pipeline.Settings, src pipeline.PlanSource, _ *zap.Logger) (pipeline.Result, error) {
		rec.called = true
		rec.set = set
		rec.src = src
		return pipeline.Result{Summary: pipeline.Summary{OriginalRows: 2}}, ret
	}
	t.Cleanup(func() { pipelineRun = orig })
	return rec
}

func TestInitConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	code, out, _ := runCLI(t, "init-config", "out")
	require.Equal(t, exitOK, code)
	require.Contains(t, out, "config.yaml")

	b, err := os.ReadFile(filepath.Join("out", "config.yaml"))
	require.NoError(t, err)
	require.Equal(t, config.TemplateYAML, string(b))
	env, err := os.ReadFile(filepath.Join("out", ".env"))
	require.NoError(t, err)
	require.Contains(t, string(env), "DATASMITH_LLM=")
	require.Contains(t, string(env), "DATASMITH_PROVIDER__openai__OPTIONS_JSON=")

	// 不覆盖
	code, _, _ = runCLI(t, "init-config", "out")
	require.Equal(t, exitConfig, code)
}

func TestInitConfigDefaultDir(t *testing.T) {
	t.Chdir(t.TempDir())
	code, _, _ := runCLI(t, "init-config")
	require.Equal(t, exitOK, code)
	_, err := os.Stat("config.yaml")
	require.NoError(t, err)
	_, err = os.Stat(".env")
	require.NoError(t, err)
}

func TestRunPassesSettings(t *testing.T) {
	workspace(t)
	rec := stubRun(t, nil)

	code, out, errOut := runCLI(t, "run", "products.csv", "-o", "out.csv", "--describe", "fill notes", "--changes", "--status=false")
	require.Equal(t, exitOK, code, errOut)
	require.True(t, rec.called)
	require.Equal(t, "products.csv", rec.set.Input)
	require.Equal(t, "out.csv", rec.set.Output)
	require.True(t, rec.set.Changes)
	require.Equal(t, "fill notes", rec.src.Description)
	require.Nil(t, rec.src.Plan)

	var sum pipeline.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	require.Equal(t, 2, sum.OriginalRows)
}

func TestRunPlanFile(t *testing.T) {
	workspace(t)
	rec := stubRun(t, nil)
	require.NoError(t, os.WriteFile("plan.json", []byte(`{"column_context":{"note":["name"]},"generate_rows":1}`), 0o644))

	code, _, errOut := runCLI(t, "run", "products.csv", "-o", "out.csv", "--plan", "plan.json", "--status=false")
	require.Equal(t, exitOK, code, errOut)
	require.NotNil(t, rec.src.Plan)
	require.Equal(t, []string{"note"}, rec.src.Plan.ColumnContext.Targets())
	require.Equal(t, 1, rec.src.Plan.GenerateRows)
}

func TestRunCLIOverrides(t *testing.T) {
	workspace(t)
	rec := stubRun(t, nil)

	code, _, errOut := runCLI(t, "--concurrency", "4", "--max-retries", "0", "--llm", "mock", "--log-level", "debug",
		"run", "products.csv", "-o", "out.csv", "--status=false")
	require.Equal(t, exitOK, code, errOut)
	require.Equal(t, 4, rec.set.Concurrency)
	require.Equal(t, 0, rec.set.MaxRetries)
	require.Equal(t, "mock", rec.set.LLMName)
}

func TestRunEnvOverride(t *testing.T) {
	workspace(t)
	rec := stubRun(t, nil)
	t.Setenv("DATASMITH_MAX_RETRIES", "0")
	t.Setenv("DATASMITH_CONCURRENCY", "5")

	code, _, errOut := runCLI(t, "run", "products.csv", "-o", "out.csv", "--status=false")
	require.Equal(t, exitOK, code, errOut)
	require.Equal(t, 0, rec.set.MaxRetries)
	require.Equal(t, 5, rec.set.Concurrency)
}

func TestRunLoadsDotEnv(t *testing.T) {
	workspace(t)
	rec := stubRun(t, nil)
	// 由 t.Setenv 负责清理，随后取消设置以便 .env 生效
	t.Setenv("DATASMITH_CONCURRENCY", "")
	require.NoError(t, os.Unsetenv("DATASMITH_CONCURRENCY"))
	require.NoError(t, os.WriteFile(".env", []byte("# c\nexport DATASMITH_CONCURRENCY=\"3\"\n"), 0o644))

	code, _, errOut := runCLI(t, "run", "products.csv", "-o", "out.csv", "--status=false")
	require.Equal(t, exitOK, code, errOut)
	require.Equal(t, 3, rec.set.Concurrency)
}

func TestRunExitCodes(t *testing.T) {
	t.Run("无配置", func(t *testing.T) {
		t.Chdir(t.TempDir())
		stubRun(t, nil)
		code, _, _ := runCLI(t, "run", "x.csv", "-o", "y.csv")
		require.Equal(t, exitConfig, code)
	})
	t.Run("显式配置不存在", func(t *testing.T) {
		workspace(t)
		stubRun(t, nil)
		code, _, _ := runCLI(t, "--config", "missing.yaml", "run", "products.csv", "-o", "y.csv")
		require.Equal(t, exitConfig, code)
	})
	t.Run("配置含未知字段", func(t *testing.T) {
		workspace(t)
		stubRun(t, nil)
		require.NoError(t, os.WriteFile("bad.yaml", []byte("llm: mock\nbogus: 1\n"), 0o644))
		code, _, _ := runCLI(t, "--config", "bad.yaml", "run", "products.csv", "-o", "y.csv")
		require.Equal(t, exitConfig, code)
	})
	t.Run("缺少输出", func(t *testing.T) {
		workspace(t)
		rec := stubRun(t, nil)
		code, _, _ := runCLI(t, "run", "products.csv")
		require.Equal(t, exitConfig, code)
		require.False(t, rec.called)
	})
	t.Run("plan 与 describe 互斥", func(t *testing.T) {
		workspace(t)
		stubRun(t, nil)
		code, _, _ := runCLI(t, "run", "products.csv", "-o", "y.csv", "--plan", "p.json", "--describe", "x")
		require.Equal(t, exitConfig, code)
	})
	t.Run("非法 plan", func(t *testing.T) {
		workspace(t)
		stubRun(t, nil)
		require.NoError(t, os.WriteFile("plan.json", []byte(`{"generate_rows":-1}`), 0o644))
		code, _, _ := runCLI(t, "run", "products.csv", "-o", "y.csv", "--plan", "plan.json")
		require.Equal(t, exitConfig, code)
	})
	t.Run("未知 llm", func(t *testing.T) {
		workspace(t)
		stubRun(t, nil)
		code, _, _ := runCLI(t, "--llm", "nope", "run", "products.csv", "-o", "y.csv")
		require.Equal(t, exitConfig, code)
	})
	t.Run("运行失败", func(t *testing.T) {
		workspace(t)
		stubRun(t, errors.New("boom"))
		code, _, errOut := runCLI(t, "run", "products.csv", "-o", "y.csv", "--status=false")
		require.Equal(t, exitRuntime, code)
		require.Contains(t, errOut, "boom")
	})
}

func TestRunEndToEndWithMock(t *testing.T) {
	workspace(t)
	require.NoError(t, os.WriteFile("plan.json", []byte(`{"column_context":{"note":["name"]}}`), 0o644))

	code, out, errOut := runCLI(t, "run", "products.csv", "-o", "out.csv", "--plan", "plan.json", "--diff", "--changes", "--status=false")
	require.Equal(t, exitOK, code, errOut)

	b, err := os.ReadFile("out.csv")
	require.NoError(t, err)
	require.Equal(t, "name,note\napple,MOCK-note-1\nbanana,MOCK-note-2\n", string(b))

	require.Contains(t, out, `"cells_updated": 2`)
	require.Contains(t, out, "-apple,\n")
	require.Contains(t, out, "+apple,MOCK-note-1\n")
	require.Contains(t, out, "2 行新增，2 行删除")

	side, err := os.ReadFile(pipeline.ChangesID("out.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(side)), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], `"column":"note"`)
}

func TestRunDiffRequiresFiles(t *testing.T) {
	workspace(t)
	stubRun(t, nil)
	code, _, _ := runCLI(t, "run", "-", "-o", "out.csv", "--diff")
	require.Equal(t, exitConfig, code)
}

func TestPlanCommand(t *testing.T) {
	workspace(t)
	code, out, errOut := runCLI(t, "plan", "--describe", "fill notes", "--columns", "name,note")
	require.Equal(t, exitOK, code, errOut)
	var p contract.Plan
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	// 模板 mock 的 plan 回复为 {}，得到空操作配置
	require.True(t, p.IsNoop())

	code, out, errOut = runCLI(t, "plan", "--describe", "fill notes", "products.csv")
	require.Equal(t, exitOK, code, errOut)
	require.Contains(t, out, `"column_context": {}`)
}

func TestPlanCommandArgs(t *testing.T) {
	workspace(t)
	code, _, _ := runCLI(t, "plan", "--columns", "a")
	require.Equal(t, exitConfig, code)
	code, _, _ = runCLI(t, "plan", "--describe", "x")
	require.Equal(t, exitConfig, code)
	code, _, _ = runCLI(t, "plan", "--describe", "x", "missing.csv")
	require.Equal(t, exitRuntime, code)
}

func TestServeStopsOnCancel(t *testing.T) {
	workspace(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out, errb bytes.Buffer
	code := execute(ctx, []string{"serve", "--addr", "127.0.0.1:0"}, &out, &errb)
	require.Equal(t, exitOK, code, errb.String())
}

func TestParseEnvLine(t *testing.T) {
	cases := []struct {
		in       string
		key, val string
		ok       bool
	}{
		{"A=1", "A", "1", true},
		{"export B = two ", "B", "two", true},
		{`C="x\ny"`, "C", "x\ny", true},
		{`D='a\n'`, "D", `a\n`, true},
		{"E=a=b", "E", "a=b", true},
		{"# comment", "", "", false},
		{"", "", "", false},
		{"=x", "", "", false},
		{"noeq", "", "", false},
	}
	for _, c := range cases {
		k, v, ok := parseEnvLine(c.in)
		require.Equal(t, c.ok, ok, c.in)
		require.Equal(t, c.key, k, c.in)
		require.Equal(t, c.val, v, c.in)
	}
}
