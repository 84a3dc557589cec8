package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"datasmith/internal/config"
	"datasmith/internal/diag"
	"datasmith/internal/pipeline"
)

// 退出码：0 成功；1 运行期失败；3 配置/装配失败。
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 3
)

var pipelineRun = pipeline.Run

func main() {
	os.Exit(execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// exitError 携带退出码；RunE 内的错误统一包成该类型，其余（参数解析）按配置错误处理。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func configErr(format string, a ...any) error {
	return &exitError{code: exitConfig, err: fmt.Errorf(format, a...)}
}

func runtimeErr(err error) error { return &exitError{code: exitRuntime, err: err} }

// globalFlags: 所有子命令共享的覆盖项。
type globalFlags struct {
	config      string
	llm         string
	concurrency int
	maxRetries  int
	logLevel    string
}

type app struct {
	flags  globalFlags
	stdout io.Writer
	stderr io.Writer
	corrID string
	log    *zap.Logger
	closer func() error
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr, corrID: uuid.NewString(), log: zap.NewNop()}
	defer a.closeLog()
	root := newRootCmd(a)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.code == exitConfig {
			fmt.Fprintf(stderr, "配置错误: %v\n", ee.err)
		} else {
			fmt.Fprintf(stderr, "运行失败: %v\n", ee.err)
		}
		return ee.code
	}
	fmt.Fprintf(stderr, "参数错误: %v\n", err)
	return exitConfig
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "datasmith",
		Short: "LLM 驱动的表格数据增强",
		Long: `datasmith 按配置（Plan）对 CSV 数据集进行增强：
  - 合成新行（少样本）
  - 按批修正/填充目标列（可引用上下文列）
  - 由自然语言描述生成 Plan

配置优先级：CLI > ENV(.env) > 配置文件 > 默认值。`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// 在任何 ENV 读取前加载工作目录下的 .env（不覆盖已有 ENV）
			_ = loadDotEnv(".env")
			return nil
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.config, "config", "", "配置文件路径（YAML/JSON）；缺省依次查找 $DATASMITH_CONFIG_FILE、./config.yaml、./config.yml、./config.json")
	pf.StringVar(&a.flags.llm, "llm", "", "provider 名称（覆盖配置）")
	pf.IntVar(&a.flags.concurrency, "concurrency", 0, "并发处理的列数（覆盖配置）")
	// -1 表示未覆盖；0 为合法值（不重试）
	pf.IntVar(&a.flags.maxRetries, "max-retries", -1, "每个工作单元的最大重试次数（覆盖配置；0 表示不重试）")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "日志等级 debug|info|warn|error（覆盖配置）")

	root.AddCommand(newRunCmd(a), newPlanCmd(a), newServeCmd(a), newInitCmd(a))
	return root
}

// loadConfig: 默认值 → 配置文件 → ENV → CLI，然后校验。
func (a *app) loadConfig() (config.Config, error) {
	cfg := config.Defaults()
	if path := config.Find(a.flags.config); path != "" {
		base, err := config.Load(path, nil)
		if err != nil {
			return config.Config{}, configErr("load config: %w", err)
		}
		cfg = config.Merge(cfg, base)
	} else if a.flags.config != "" {
		return config.Config{}, configErr("config file %s not found", a.flags.config)
	}

	env, err := config.EnvOverlay(os.Environ())
	if err != nil {
		return config.Config{}, configErr("env: %w", err)
	}
	cfg = config.Merge(cfg, env)

	over := config.Config{MaxRetries: -1}
	over.LLM = strings.TrimSpace(a.flags.llm)
	if a.flags.concurrency > 0 {
		over.Concurrency = a.flags.concurrency
	}
	if a.flags.maxRetries >= 0 {
		over.MaxRetries = a.flags.maxRetries
	}
	over.Logging.Level = strings.TrimSpace(a.flags.logLevel)
	cfg = config.Merge(cfg, over)

	if err := config.Validate(cfg); err != nil {
		return config.Config{}, configErr("validate: %w", err)
	}
	return cfg, nil
}

// setup 加载配置、构造日志器并装配组件。
func (a *app) setup() (config.Config, pipeline.Components, pipeline.Settings, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return cfg, pipeline.Components{}, pipeline.Settings{}, err
	}
	log, closer, err := diag.NewLogger(a.corrID, cfg.Logging.Level, cfg.Logging.Dir)
	if err != nil {
		return cfg, pipeline.Components{}, pipeline.Settings{}, configErr("logger: %w", err)
	}
	a.closeLog()
	a.log, a.closer = log, closer

	comp, set, err := config.Assemble(cfg)
	if err != nil {
		diag.Fail(a.log, "config", "assemble failed", err)
		return cfg, pipeline.Components{}, pipeline.Settings{}, configErr("assemble: %w", err)
	}
	a.log.Debug("effective config",
		zap.String("comp", "config"),
		zap.String("llm", cfg.LLM),
		zap.Int("concurrency", cfg.Concurrency),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Any("components", cfg.Components),
	)
	return cfg, comp, set, nil
}

func (a *app) closeLog() {
	if a.log != nil {
		_ = a.log.Sync()
	}
	if a.closer != nil {
		_ = a.closer()
		a.closer = nil
	}
}
