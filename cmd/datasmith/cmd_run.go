package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"datasmith/internal/diag"
	"datasmith/internal/pipeline"
	"datasmith/internal/report"
	"datasmith/pkg/contract"
)

type runFlags struct {
	output   string
	planFile string
	describe string
	diff     bool
	changes  bool
	status   bool
}

func newRunCmd(a *app) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run INPUT -o OUTPUT",
		Short: "按 Plan 增强数据集并写出结果",
		Long: `读取 INPUT（"-" 为标准输入），按 Plan 合成行、修正列，写出到 OUTPUT（"-" 为标准输出）。
Plan 来源：--plan 文件；否则 --describe 由模型合成；二者皆无时原样写出。
中断（SIGINT/SIGTERM）后已合并的结果仍会写出。`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), args[0], f)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.output, "output", "o", "", "输出标识（必填）")
	fl.StringVar(&f.planFile, "plan", "", "Plan JSON 文件")
	fl.StringVar(&f.describe, "describe", "", "自然语言描述（未给 --plan 时合成 Plan）")
	fl.BoolVar(&f.diff, "diff", false, "运行后打印输入与输出的行级差异")
	fl.BoolVar(&f.changes, "changes", false, "写出单元格变更旁路文件 <OUTPUT>.changes.jsonl")
	fl.BoolVar(&f.status, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")
	_ = cmd.MarkFlagRequired("output")
	cmd.MarkFlagsMutuallyExclusive("plan", "describe")
	return cmd
}

func (a *app) run(parent context.Context, input string, f runFlags) error {
	start := time.Now()
	if strings.TrimSpace(f.output) == "" {
		return configErr("output required")
	}
	if f.diff && (input == "-" || f.output == "-") {
		return configErr("--diff requires file input and output")
	}
	src := pipeline.PlanSource{Description: f.describe}
	if f.planFile != "" {
		p, err := readPlan(f.planFile)
		if err != nil {
			return configErr("plan: %w", err)
		}
		src.Plan = &p
	}

	cfg, comp, set, err := a.setup()
	if err != nil {
		return err
	}
	set.Input = input
	set.Output = f.output
	set.Changes = f.changes

	term := diag.NewTerminal(a.stderr, f.status)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var before string
	if f.diff {
		before, err = readAll(ctx, comp.Reader, input)
		if err != nil {
			return runtimeErr(fmt.Errorf("read input: %w", err))
		}
	}

	a.log.Info("run", zap.String("comp", "cli"), zap.String("input", input), zap.String("output", f.output), zap.String("llm", cfg.LLM))
	t := diag.Start(a.log, "pipeline", "run")
	res, err := pipelineRun(ctx, comp, set, src, a.log)
	if err != nil {
		diag.Fail(a.log, "pipeline", "run failed", err)
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(a.stderr, "已中断；已合并的结果已写出")
		}
		return runtimeErr(err)
	}
	t.Finish("run", int64(res.Summary.CellsUpdated))

	out := a.stdout
	if f.output == "-" {
		out = a.stderr
	}
	if err := printSummary(out, res.Summary); err != nil {
		return runtimeErr(err)
	}
	if f.diff {
		after, err := readOutput(comp.Writer, f.output)
		if err != nil {
			return runtimeErr(fmt.Errorf("read output: %w", err))
		}
		d, st := report.LineDiff(before, after)
		fmt.Fprint(out, d)
		fmt.Fprintf(out, "%d 行新增，%d 行删除\n", st.Added, st.Removed)
	}
	a.log.Info("run finished", zap.String("comp", "cli"), zap.Duration("duration", time.Since(start)))
	return nil
}

func readPlan(path string) (contract.Plan, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return contract.Plan{}, err
	}
	var p contract.Plan
	if err := json.Unmarshal(b, &p); err != nil {
		return contract.Plan{}, err
	}
	p.Normalize()
	if err := p.Validate(); err != nil {
		return contract.Plan{}, err
	}
	return p, nil
}

func printSummary(w io.Writer, s pipeline.Summary) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", b)
	return err
}

func readAll(ctx context.Context, r contract.Reader, id string) (string, error) {
	rc, err := r.Open(ctx, id)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	return string(b), err
}

// pathWriter: 能把输出标识映射为本地路径的 Writer（文件系统实现）。
type pathWriter interface {
	Path(id string) (string, error)
}

func readOutput(w contract.Writer, id string) (string, error) {
	path := id
	if pw, ok := w.(pathWriter); ok {
		p, err := pw.Path(id)
		if err != nil {
			return "", err
		}
		path = p
	}
	b, err := os.ReadFile(path)
	return string(b), err
}
