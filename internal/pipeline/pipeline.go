package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"datasmith/internal/diag"
	"datasmith/internal/rate"
	"datasmith/internal/report"
	"datasmith/pkg/contract"
	"datasmith/pkg/dataset"
)

// - 单点并发：仅此层管理并发；原子组件均为同步实现。
// - 行合成先于列处理；列按配置顺序调度，存在读写依赖的列串行。
// - 单批失败只跳过该批，不中止运行；取消后已合并结果保留且仍写出。

// Components 聚合运行所需的原子组件。
type Components struct {
	Reader  contract.Reader
	Codec   contract.Codec
	Writer  contract.Writer
	LLM     contract.LLMClient
	Batcher contract.Batcher
	Prompt  contract.PromptBuilder
	Decoder contract.Decoder
	Rows    contract.RowSynthesizer
	Planner contract.Planner
}

// Generation: 某类请求的生成参数覆盖；零值表示沿用组件默认。
type Generation struct {
	Model       string
	MaxTokens   int
	Temperature *float64
}

func (g Generation) apply(p *contract.Params) {
	if g.Model != "" {
		p.Model = g.Model
	}
	if g.MaxTokens > 0 {
		p.MaxTokens = g.MaxTokens
	}
	if g.Temperature != nil {
		t := *g.Temperature
		p.Temperature = &t
	}
}

// Settings 运行期配置。
type Settings struct {
	// 输入/输出标识（由 Reader/Writer 解释；"-" 为标准输入/输出）
	Input  string
	Output string
	// Concurrency: 并发处理的列数上限（>=1）
	Concurrency int
	// MaxRetries: 每个工作单元的最大重试次数（>=0）
	MaxRetries int
	// RequestTimeout: 单次模型调用超时；<=0 使用 DefaultRequestTimeout
	RequestTimeout time.Duration
	// BytesPerToken: token 估算参数（<=0 时按 4）
	BytesPerToken int
	// 限流闸门（可选）与分组键
	Gate    rate.Gate
	GateKey rate.LimitKey
	// 各类请求的生成参数覆盖
	Correct Generation
	Rows    Generation
	Plan    Generation
	// Changes: 收集单元格变更并写出 <Output>.changes.jsonl
	Changes bool
	// LLMName: 仅用于终端展示
	LLMName string
}

// Summary: 一次运行的统计结果。
type Summary struct {
	OriginalRows     int      `json:"original_rows"`
	NewRows          int      `json:"new_rows"`
	NewColumns       []string `json:"new_columns"`
	ProcessedColumns []string `json:"processed_columns"`
	BatchesTotal     int      `json:"batches_total"`
	BatchesFailed    int      `json:"batches_failed"`
	CellsUpdated     int      `json:"cells_updated"`
}

// Stats 以有序键值返回摘要，供终端渲染。
func (s Summary) Stats() [][2]string {
	return [][2]string{
		{"original_rows", strconv.Itoa(s.OriginalRows)},
		{"new_rows", strconv.Itoa(s.NewRows)},
		{"new_columns", strings.Join(s.NewColumns, ",")},
		{"processed_columns", strings.Join(s.ProcessedColumns, ",")},
		{"batches", fmt.Sprintf("%d (failed %d)", s.BatchesTotal, s.BatchesFailed)},
		{"cells_updated", strconv.Itoa(s.CellsUpdated)},
	}
}

// Result: Enhance/Run 的返回值。
type Result struct {
	Plan    contract.Plan
	Summary Summary
	// Changes 仅在 Settings.Changes 为 true 时收集（按写回顺序）
	Changes []report.Change
}

// PlanSource: Run 的配置来源。Plan 非空时直接使用；否则由 Description 合成，二者皆空时为空操作配置。
type PlanSource struct {
	Plan        *contract.Plan
	Description string
}

// SynthesizePlan 将自然语言描述转为 Plan。任何失败（构造/调用/解析）都回退到 DefaultPlan，不向调用方报错。
func SynthesizePlan(ctx context.Context, comp Components, set Settings, description string, columns []string, log *zap.Logger) contract.Plan {
	if comp.Planner == nil || comp.LLM == nil {
		return contract.DefaultPlan()
	}
	timer := diag.Start(log, "planner", "synthesize")
	req, err := comp.Planner.BuildRequest(ctx, description, columns)
	if err != nil {
		diag.Fail(log, "planner", "build failed", err)
		return contract.DefaultPlan()
	}
	set.Plan.apply(&req.Params)
	var plan contract.Plan
	err = invoke(ctx, comp, set, req, log, func(raw contract.Raw) error {
		p, derr := comp.Planner.Decode(ctx, raw)
		if derr != nil {
			return derr
		}
		plan = p
		return nil
	})
	if err != nil {
		diag.Fail(log, "planner", "synthesize failed, using default plan", err)
		return contract.DefaultPlan()
	}
	plan.Normalize()
	timer.Finish("synthesize", int64(plan.ColumnContext.Len()))
	return plan
}

// Run 执行完整流程：Reader → Codec.Decode → [SynthesizePlan] → Enhance → Codec.Encode → Writer。
// 输入缺失在处理前失败；进入处理后即使被取消也会写出当前数据集。
func Run(ctx context.Context, comp Components, set Settings, src PlanSource, log *zap.Logger) (Result, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := sanity(comp, set); err != nil {
		return Result{}, fmt.Errorf("sanity: %w", err)
	}
	ds, err := load(ctx, comp, set, log)
	if err != nil {
		return Result{}, err
	}

	var plan contract.Plan
	switch {
	case src.Plan != nil:
		plan = *src.Plan
	case strings.TrimSpace(src.Description) != "":
		plan = SynthesizePlan(ctx, comp, set, src.Description, ds.Columns(), log)
	default:
		plan = contract.DefaultPlan()
	}

	res, eerr := Enhance(ctx, comp, set, ds, plan, log)
	if eerr != nil && diag.Classify(eerr) != diag.CodeCancel {
		return res, eerr
	}

	// 取消后仍需落盘
	wctx := context.WithoutCancel(ctx)
	if err := persist(wctx, comp, set, ds, log); err != nil {
		return res, err
	}
	if set.Changes {
		if err := persistChanges(wctx, comp, set, res.Changes, log); err != nil {
			return res, err
		}
	}
	return res, eerr
}

// Enhance 在内存数据集上执行增强：行合成 → 创建目标列 → 逐列分批修正。
// 返回的错误仅来自输入校验或 ctx 取消；单批/行合成失败只计入 Summary。
func Enhance(ctx context.Context, comp Components, set Settings, ds *dataset.Dataset, plan contract.Plan, log *zap.Logger) (Result, error) {
	if ds == nil {
		return Result{}, fmt.Errorf("pipeline: %w: nil dataset", contract.ErrInvalidInput)
	}
	if log == nil {
		log = zap.NewNop()
	}
	plan.Normalize()
	if err := plan.Validate(); err != nil {
		return Result{}, err
	}
	if plan.ColumnContext.Len() > 0 && (comp.Batcher == nil || comp.Prompt == nil || comp.Decoder == nil || comp.LLM == nil) {
		return Result{}, errors.New("pipeline: missing column components")
	}

	res := Result{Plan: plan, Summary: Summary{OriginalRows: ds.Len(), NewColumns: []string{}, ProcessedColumns: []string{}}}
	term := diag.GetTerminal()
	term.RunStart(concurrency(set), set.LLMName, ds.Len())
	t0 := time.Now()

	var mu sync.Mutex
	var onChange func(report.Change)
	if set.Changes {
		onChange = func(c report.Change) {
			mu.Lock()
			res.Changes = append(res.Changes, c)
			mu.Unlock()
		}
	}

	if plan.GenerateRows > 0 {
		added, cols := synthesizeRows(ctx, comp, set, ds, plan, log)
		res.Summary.NewRows = added
		res.Summary.NewColumns = append(res.Summary.NewColumns, cols...)
	}

	targets := plan.ColumnContext.Targets()
	if len(targets) > 0 && ctx.Err() == nil {
		for _, col := range targets {
			if ds.AddColumn(col) {
				res.Summary.NewColumns = append(res.Summary.NewColumns, col)
			}
		}
		stats := runColumns(ctx, comp, set, ds, plan, targets, log, onChange)
		for i, st := range stats {
			if !st.started {
				continue
			}
			res.Summary.ProcessedColumns = append(res.Summary.ProcessedColumns, targets[i])
			res.Summary.BatchesTotal += st.batches
			res.Summary.BatchesFailed += st.failed
			res.Summary.CellsUpdated += st.cells
		}
	}

	err := ctx.Err()
	term.RunFinish(err == nil && res.Summary.BatchesFailed == 0, time.Since(t0), res.Summary.Stats())
	if err != nil {
		return res, fmt.Errorf("enhance: %w", err)
	}
	return res, nil
}

// synthesizeRows 请求 plan.GenerateRows 行并追加；失败只记录日志，不追加任何行。
func synthesizeRows(ctx context.Context, comp Components, set Settings, ds *dataset.Dataset, plan contract.Plan, log *zap.Logger) (int, []string) {
	want := plan.GenerateRows
	term := diag.GetTerminal()
	if comp.Rows == nil || comp.LLM == nil {
		diag.Fail(log, "rows", "row synthesizer not configured", fmt.Errorf("%w: no row synthesizer", contract.ErrInvalidInput))
		term.RowsFinish(false, want, 0)
		return 0, nil
	}
	timer := diag.Start(log, "rows", "synthesize", zap.Int("count", want))
	req, err := comp.Rows.BuildRequest(ctx, ds, want, plan.DatasetDescription)
	if err != nil {
		diag.Fail(log, "rows", "build failed", err)
		term.RowsFinish(false, want, 0)
		return 0, nil
	}
	set.Rows.apply(&req.Params)
	var recs []dataset.Record
	err = invoke(ctx, comp, set, req, log, func(raw contract.Raw) error {
		r, derr := comp.Rows.Decode(ctx, raw, want)
		if derr != nil {
			return derr
		}
		recs = r
		return nil
	})
	if err != nil {
		diag.Fail(log, "rows", "synthesize failed", err)
		term.RowsFinish(false, want, 0)
		return 0, nil
	}
	added, cols, err := AppendRows(ds, recs)
	if err != nil {
		diag.Fail(log, "rows", "append failed", err)
	}
	timer.Finish("synthesize", int64(added))
	term.RowsFinish(err == nil, want, added)
	return added, cols
}

type columnStats struct {
	started bool
	batches int
	failed  int
	cells   int
}

// runColumns 以 errgroup 限并发调度各列。第 i 列须等待所有与之存在读写依赖的前序列完成，
// 因此结果与按配置顺序串行执行一致。
func runColumns(ctx context.Context, comp Components, set Settings, ds *dataset.Dataset, plan contract.Plan, targets []string, log *zap.Logger, onChange func(report.Change)) []columnStats {
	stats := make([]columnStats, len(targets))
	done := make([]chan struct{}, len(targets))
	for i := range done {
		done[i] = make(chan struct{})
	}
	var g errgroup.Group
	g.SetLimit(concurrency(set))
	for i, col := range targets {
		deps := dependencies(plan, targets, i)
		g.Go(func() error {
			defer close(done[i])
			for _, d := range deps {
				select {
				case <-done[d]:
				case <-ctx.Done():
					return nil
				}
			}
			if ctx.Err() != nil {
				return nil
			}
			stats[i] = processColumn(ctx, comp, set, ds, plan, col, log, onChange)
			return nil
		})
	}
	_ = g.Wait()
	return stats
}

// dependencies 返回第 i 列需等待的前序列下标：任一方的上下文列包含另一方。
func dependencies(plan contract.Plan, targets []string, i int) []int {
	var out []int
	for j := 0; j < i; j++ {
		if contains(plan.ColumnContext.Context(targets[i]), targets[j]) ||
			contains(plan.ColumnContext.Context(targets[j]), targets[i]) {
			out = append(out, j)
		}
	}
	return out
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

// processColumn 处理单列：切批后逐批 Build → invoke → Merge；批间检查取消。
func processColumn(ctx context.Context, comp Components, set Settings, ds *dataset.Dataset, plan contract.Plan, col string, log *zap.Logger, onChange func(report.Change)) columnStats {
	st := columnStats{started: true}
	term := diag.GetTerminal()
	timer := diag.Start(log, "column", "process", diag.Column(col))
	batches, err := comp.Batcher.Make(ctx, ds, col, plan)
	if err != nil {
		diag.Fail(log, "batcher", "make failed", err, diag.Column(col))
		term.ColumnStart(col, 0)
		term.ColumnFinish(col, false)
		return st
	}
	term.ColumnStart(col, len(batches))
	ctxCols := plan.ColumnContext.Context(col)
	instr := plan.Instruction(col)
	for _, b := range batches {
		if ctx.Err() != nil {
			break
		}
		o := runBatch(ctx, comp, set, ds, b, ctxCols, instr, log, onChange)
		st.batches++
		if !o.OK {
			st.failed++
		}
		st.cells += o.Applied
		term.ColumnProgress(col, st.batches, st.failed)
	}
	timer.Finish("process", int64(st.cells))
	term.ColumnFinish(col, st.failed == 0 && ctx.Err() == nil)
	return st
}

// runBatch 处理单批；任何失败仅使该批 OK=false。
func runBatch(ctx context.Context, comp Components, set Settings, ds *dataset.Dataset, b contract.Batch, ctxCols []string, instr string, log *zap.Logger, onChange func(report.Change)) Outcome {
	fields := []zap.Field{diag.Column(b.Column), diag.Batch(b.Index)}
	req, err := comp.Prompt.Build(ctx, ds, b, ctxCols, instr)
	if err != nil {
		diag.Fail(log, "prompt_builder", "build failed", err, fields...)
		return Outcome{Err: err}
	}
	set.Correct.apply(&req.Params)
	var corrs []contract.Correction
	err = invoke(ctx, comp, set, req, log, func(raw contract.Raw) error {
		c, derr := comp.Decoder.Decode(ctx, b, raw)
		if derr != nil {
			return derr
		}
		corrs = c
		return nil
	}, fields...)
	if err != nil {
		return Outcome{Err: err}
	}
	o := Merge(ds, b, corrs, onChange)
	if o.Err != nil {
		diag.Fail(log, "merger", "merge failed", o.Err, fields...)
	}
	if log != nil {
		log.Debug("batch merged", append(fields, zap.Int("applied", o.Applied), zap.Int("ignored", o.Ignored))...)
	}
	return o
}

func load(ctx context.Context, comp Components, set Settings, log *zap.Logger) (*dataset.Dataset, error) {
	timer := diag.Start(log, "reader", "load")
	rc, err := comp.Reader.Open(ctx, set.Input)
	if err != nil {
		diag.Fail(log, "reader", "open failed", err)
		return nil, fmt.Errorf("reader open: %w", err)
	}
	defer rc.Close()
	ds, err := comp.Codec.Decode(ctx, rc)
	if err != nil {
		diag.Fail(log, "codec", "decode failed", err)
		return nil, fmt.Errorf("codec decode: %w", err)
	}
	timer.Finish("load", int64(ds.Len()))
	return ds, nil
}

// persist 经管道把编码结果流式交给 Writer。
func persist(ctx context.Context, comp Components, set Settings, ds *dataset.Dataset, log *zap.Logger) error {
	timer := diag.Start(log, "writer", "write")
	pr, pw := io.Pipe()
	encErr := make(chan error, 1)
	go func() {
		err := comp.Codec.Encode(ctx, pw, ds)
		_ = pw.CloseWithError(err)
		encErr <- err
	}()
	werr := comp.Writer.Write(ctx, set.Output, pr)
	// Writer 提前返回时解除编码端阻塞
	_ = pr.Close()
	eerr := <-encErr
	if werr != nil {
		diag.Fail(log, "writer", "write failed", werr)
		return fmt.Errorf("writer write: %w", werr)
	}
	if eerr != nil {
		diag.Fail(log, "codec", "encode failed", eerr)
		return fmt.Errorf("codec encode: %w", eerr)
	}
	timer.Finish("write", int64(ds.Len()))
	return nil
}

// persistChanges 写出 JSONL 变更边车；输出为标准输出时跳过。
func persistChanges(ctx context.Context, comp Components, set Settings, changes []report.Change, log *zap.Logger) error {
	if set.Output == "-" {
		if log != nil {
			log.Warn("changes sidecar skipped for stdout output", zap.String("comp", "writer"))
		}
		return nil
	}
	r, err := report.ChangesJSONL(changes)
	if err != nil {
		return err
	}
	if err := comp.Writer.Write(ctx, ChangesID(set.Output), r); err != nil {
		diag.Fail(log, "writer", "write changes failed", err)
		return fmt.Errorf("writer write(changes): %w", err)
	}
	return nil
}

// ChangesID 返回输出对应的变更边车标识。
func ChangesID(output string) string { return output + ".changes.jsonl" }

func concurrency(set Settings) int {
	if set.Concurrency < 1 {
		return 1
	}
	return set.Concurrency
}

func sanity(c Components, s Settings) error {
	if c.Reader == nil || c.Codec == nil || c.Writer == nil {
		return errors.New("pipeline: missing components")
	}
	if strings.TrimSpace(s.Input) == "" || strings.TrimSpace(s.Output) == "" {
		return errors.New("pipeline: empty input or output")
	}
	return nil
}
