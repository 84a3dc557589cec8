package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"datasmith/internal/pipeline"
)

func newPlanCmd(a *app) *cobra.Command {
	var (
		describe string
		columns  []string
	)
	cmd := &cobra.Command{
		Use:   "plan --describe TEXT (INPUT | --columns a,b)",
		Short: "由自然语言描述合成 Plan 并打印 JSON",
		Long: `列名取自 INPUT 的表头，或由 --columns 直接给出。
模型调用或解析失败时打印空操作 Plan（不报错）。`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(describe) == "" {
				return configErr("--describe required")
			}
			if len(args) == 0 && len(columns) == 0 {
				return configErr("INPUT or --columns required")
			}
			_, comp, set, err := a.setup()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if len(args) == 1 {
				rc, err := comp.Reader.Open(ctx, args[0])
				if err != nil {
					return runtimeErr(fmt.Errorf("open %s: %w", args[0], err))
				}
				ds, err := comp.Codec.Decode(ctx, rc)
				_ = rc.Close()
				if err != nil {
					return runtimeErr(fmt.Errorf("decode %s: %w", args[0], err))
				}
				columns = ds.Columns()
			}
			plan := pipeline.SynthesizePlan(ctx, comp, set, describe, columns, a.log)
			b, err := json.MarshalIndent(plan, "", "  ")
			if err != nil {
				return runtimeErr(err)
			}
			fmt.Fprintf(a.stdout, "%s\n", b)
			return nil
		},
	}
	cmd.Flags().StringVar(&describe, "describe", "", "自然语言描述（必填）")
	cmd.Flags().StringSliceVar(&columns, "columns", nil, "列名（逗号分隔）；给出 INPUT 时忽略")
	return cmd
}
