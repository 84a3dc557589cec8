package stress

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"datasmith/internal/config"
	"datasmith/internal/pipeline"
	"datasmith/pkg/contract"
)

const (
	rows    = 500
	targets = 8
)

// writeInput 生成 rows 行、targets 个空目标列的 CSV。
func writeInput(t *testing.T, path string) {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("id,name")
	for c := 0; c < targets; c++ {
		fmt.Fprintf(&sb, ",t%d", c)
	}
	sb.WriteByte('\n')
	for r := 1; r <= rows; r++ {
		fmt.Fprintf(&sb, "%d,item-%d%s\n", r, r, strings.Repeat(",", targets))
	}
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
}

func stressPlan() *contract.Plan {
	p := contract.DefaultPlan()
	for c := 0; c < targets; c++ {
		p.ColumnContext.Set(fmt.Sprintf("t%d", c), []string{"name"})
		p.BatchSizes[fmt.Sprintf("t%d", c)] = 25
	}
	return &p
}

func runOnce(t *testing.T, conc int) (pipeline.Summary, time.Duration, error) {
	t.Helper()
	dir := t.TempDir()
	in := filepath.Join(dir, "input.csv")
	writeInput(t, in)

	cfg, err := config.DefaultTemplateConfig()
	require.NoError(t, err)
	cfg.Logging.Level = "error"
	cfg.Concurrency = conc
	cfg.LLM = "mock"
	cfg.Provider = map[string]config.Provider{"mock": {Client: "mock", Options: config.RawOptions{"prefix": "STRESS"}}}
	cfg.Options.Writer = config.RawOptions{"output_dir": filepath.Join(dir, "out")}
	comp, set, err := config.Assemble(cfg)
	require.NoError(t, err)
	set.Input = in
	set.Output = "input.csv"

	start := time.Now()
	res, err := pipeline.Run(context.Background(), comp, set, pipeline.PlanSource{Plan: stressPlan()}, nil)
	return res.Summary, time.Since(start), err
}

func TestStress(t *testing.T) {
	if testing.Short() {
		t.Skip("stress")
	}
	for _, conc := range []int{1, 4, 8, 16} {
		t.Run(fmt.Sprintf("concurrency_%d", conc), func(t *testing.T) {
			const runs = 3
			latencies := make([]time.Duration, 0, runs)
			for i := 0; i < runs; i++ {
				sum, dur, err := runOnce(t, conc)
				require.NoError(t, err, "run %d", i)
				require.Equal(t, rows*targets, sum.CellsUpdated)
				require.Zero(t, sum.BatchesFailed)
				latencies = append(latencies, dur)
			}
			sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
			var total time.Duration
			for _, d := range latencies {
				total += d
			}
			idx := int(math.Ceil(float64(len(latencies))*0.95)) - 1
			if idx < 0 {
				idx = 0
			}
			t.Logf("并发%d 平均%v 95%%延迟%v", conc, total/time.Duration(len(latencies)), latencies[idx])
		})
	}
}
