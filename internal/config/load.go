package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix: 环境变量覆盖前缀。
const EnvPrefix = "DATASMITH_"

// 默认配置文件名（按顺序查找）。
var defaultFiles = []string{"config.yaml", "config.yml", "config.json"}

// Defaults 返回带有安全默认值的 Config 雏形。
// 注意：LLM 不设默认（必须由配置文件/ENV/CLI 提供）。
func Defaults() Config {
	return Config{
		Concurrency:           1,
		MaxRetries:            2,
		RequestTimeoutSeconds: 60,
		Logging:               Logging{Level: "info"},
		Components: Components{
			Reader:         "fs",
			Codec:          "csv",
			Writer:         "fs",
			Batcher:        "eligible",
			PromptBuilder:  "correct",
			Decoder:        "correction",
			RowSynthesizer: "fewshot",
			Planner:        "nl",
		},
		Server: Server{
			Addr:           ":8000",
			UploadDir:      "uploads",
			ResultDir:      "results",
			AllowedOrigins: []string{"*"},
			MaxUploadMB:    32,
		},
	}
}

// Find 决定配置文件路径：显式路径 > DATASMITH_CONFIG_FILE > 工作目录下的默认文件名。
// 均不存在时返回空串。
func Find(explicit string) string {
	if strings.TrimSpace(explicit) != "" {
		return explicit
	}
	if s := strings.TrimSpace(os.Getenv(EnvPrefix + "CONFIG_FILE")); s != "" {
		return s
	}
	for _, name := range defaultFiles {
		if st, err := os.Stat(name); err == nil && !st.IsDir() {
			return name
		}
	}
	return ""
}

// Load 从文件路径或原始字节解析 Config。YAML 严格拒绝未知字段；JSON 作为 YAML 子集同样可读。
// 未出现的 max_retries 记为 -1，Merge 时不覆盖。
func Load(path string, raw []byte) (Config, error) {
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return Config{}, err
		}
		defer f.Close()
		r = f
	default:
		return Config{}, errors.New("no config source provided")
	}
	cfg := Config{MaxRetries: -1}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			// 空文件
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/选项子树为“替换”；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	if over.Concurrency != 0 {
		out.Concurrency = over.Concurrency
	}
	// MaxRetries 的 0 具有语义（禁用重试）；over.MaxRetries<0 视为未覆盖。
	if over.MaxRetries >= 0 {
		out.MaxRetries = over.MaxRetries
	}
	if over.RequestTimeoutSeconds != 0 {
		out.RequestTimeoutSeconds = over.RequestTimeoutSeconds
	}
	if over.BytesPerToken != 0 {
		out.BytesPerToken = over.BytesPerToken
	}
	if s := strings.TrimSpace(over.Logging.Level); s != "" {
		out.Logging.Level = s
	}
	if s := strings.TrimSpace(over.Logging.Dir); s != "" {
		out.Logging.Dir = s
	}
	if s := strings.TrimSpace(over.LLM); s != "" {
		out.LLM = s
	}

	// Provider（按字段覆盖同名项）
	if len(over.Provider) > 0 {
		prov := make(map[string]Provider, len(out.Provider)+len(over.Provider))
		for k, v := range out.Provider {
			prov[k] = v
		}
		for k, v := range over.Provider {
			prov[k] = mergeProvider(prov[k], v)
		}
		out.Provider = prov
	}

	out.Generation.Correct = mergeGen(out.Generation.Correct, over.Generation.Correct)
	out.Generation.Rows = mergeGen(out.Generation.Rows, over.Generation.Rows)
	out.Generation.Plan = mergeGen(out.Generation.Plan, over.Generation.Plan)

	// 组件名（空不覆盖）
	pick(&out.Components.Reader, over.Components.Reader)
	pick(&out.Components.Codec, over.Components.Codec)
	pick(&out.Components.Writer, over.Components.Writer)
	pick(&out.Components.Batcher, over.Components.Batcher)
	pick(&out.Components.PromptBuilder, over.Components.PromptBuilder)
	pick(&out.Components.Decoder, over.Components.Decoder)
	pick(&out.Components.RowSynthesizer, over.Components.RowSynthesizer)
	pick(&out.Components.Planner, over.Components.Planner)

	// Options（完整替换对应键）
	pickOpts(&out.Options.Reader, over.Options.Reader)
	pickOpts(&out.Options.Codec, over.Options.Codec)
	pickOpts(&out.Options.Writer, over.Options.Writer)
	pickOpts(&out.Options.Batcher, over.Options.Batcher)
	pickOpts(&out.Options.PromptBuilder, over.Options.PromptBuilder)
	pickOpts(&out.Options.Decoder, over.Options.Decoder)
	pickOpts(&out.Options.RowSynthesizer, over.Options.RowSynthesizer)
	pickOpts(&out.Options.Planner, over.Options.Planner)

	pick(&out.Server.Addr, over.Server.Addr)
	pick(&out.Server.UploadDir, over.Server.UploadDir)
	pick(&out.Server.ResultDir, over.Server.ResultDir)
	if len(over.Server.AllowedOrigins) > 0 {
		out.Server.AllowedOrigins = cloneStrings(over.Server.AllowedOrigins)
	}
	if over.Server.MaxUploadMB != 0 {
		out.Server.MaxUploadMB = over.Server.MaxUploadMB
	}
	return out
}

func mergeProvider(base, over Provider) Provider {
	out := base
	pick(&out.Client, over.Client)
	pickOpts(&out.Options, over.Options)
	if over.Limits.RPM != 0 {
		out.Limits.RPM = over.Limits.RPM
	}
	if over.Limits.TPM != 0 {
		out.Limits.TPM = over.Limits.TPM
	}
	if over.Limits.MaxTokensPerReq != 0 {
		out.Limits.MaxTokensPerReq = over.Limits.MaxTokensPerReq
	}
	return out
}

func mergeGen(base, over GenParams) GenParams {
	out := base
	pick(&out.Model, over.Model)
	if over.MaxTokens != 0 {
		out.MaxTokens = over.MaxTokens
	}
	if over.Temperature != nil {
		t := *over.Temperature
		out.Temperature = &t
	}
	return out
}

func pick(dst *string, v string) {
	if s := strings.TrimSpace(v); s != "" {
		*dst = s
	}
}

func pickOpts(dst *RawOptions, v RawOptions) {
	if len(v) > 0 {
		*dst = v
	}
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合；其余 DATASMITH_ 键忽略）。
// 支持：CONCURRENCY, MAX_RETRIES, REQUEST_TIMEOUT_SECONDS, LLM, LOG_LEVEL, LOG_DIR, COMPONENTS_*,
// SERVER_{ADDR,UPLOAD_DIR,RESULT_DIR,ALLOWED_ORIGINS}，
// 以及 PROVIDER__<name>__CLIENT / PROVIDER__<name>__LIMITS_{RPM,TPM,MAX_TOKENS_PER_REQ} / PROVIDER__<name>__OPTIONS_JSON
func EnvOverlay(environ []string) (Config, error) {
	// -1 表示未设置，以便 Merge 区分“未覆盖”和“显式设置为 0”。
	over := Config{MaxRetries: -1}
	prov := map[string]Provider{}
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		nk := strings.TrimPrefix(kv[:eq], EnvPrefix)
		val := strings.TrimSpace(kv[eq+1:])
		switch nk {
		case "CONCURRENCY":
			if v, err := atoi(val); err == nil {
				over.Concurrency = v
			}
		case "MAX_RETRIES":
			if v, err := atoi(val); err == nil {
				over.MaxRetries = v
			}
		case "REQUEST_TIMEOUT_SECONDS":
			if v, err := atoi(val); err == nil {
				over.RequestTimeoutSeconds = v
			}
		case "LLM":
			over.LLM = val
		case "LOG_LEVEL":
			over.Logging.Level = val
		case "LOG_DIR":
			over.Logging.Dir = val
		case "COMPONENTS_READER":
			over.Components.Reader = val
		case "COMPONENTS_CODEC":
			over.Components.Codec = val
		case "COMPONENTS_WRITER":
			over.Components.Writer = val
		case "COMPONENTS_BATCHER":
			over.Components.Batcher = val
		case "COMPONENTS_PROMPT_BUILDER":
			over.Components.PromptBuilder = val
		case "COMPONENTS_DECODER":
			over.Components.Decoder = val
		case "COMPONENTS_ROW_SYNTHESIZER":
			over.Components.RowSynthesizer = val
		case "COMPONENTS_PLANNER":
			over.Components.Planner = val
		case "SERVER_ADDR":
			over.Server.Addr = val
		case "SERVER_UPLOAD_DIR":
			over.Server.UploadDir = val
		case "SERVER_RESULT_DIR":
			over.Server.ResultDir = val
		case "SERVER_ALLOWED_ORIGINS":
			over.Server.AllowedOrigins = splitComma(val)
		default:
			if !strings.HasPrefix(nk, "PROVIDER__") {
				continue
			}
			parts := strings.Split(nk, "__")
			if len(parts) < 3 {
				continue
			}
			name := strings.TrimSpace(parts[1])
			field := strings.Join(parts[2:], "__")
			p := prov[name]
			changed := false
			switch field {
			case "CLIENT":
				if val != "" {
					p.Client = val
					changed = true
				}
			case "LIMITS_RPM":
				if v, err := atoi(val); err == nil {
					p.Limits.RPM = v
					changed = true
				}
			case "LIMITS_TPM":
				if v, err := atoi(val); err == nil {
					p.Limits.TPM = v
					changed = true
				}
			case "LIMITS_MAX_TOKENS_PER_REQ":
				if v, err := atoi(val); err == nil {
					p.Limits.MaxTokensPerReq = v
					changed = true
				}
			case "OPTIONS_JSON":
				// 空值视为未设置，避免清空现有配置
				if val != "" {
					var o RawOptions
					if err := json.Unmarshal([]byte(val), &o); err != nil {
						return Config{}, fmt.Errorf("env %s: %w", kv[:eq], err)
					}
					p.Options = o
					changed = true
				}
			}
			// 仅在发生有效变更时记录该 provider；避免空值覆盖配置文件
			if changed {
				prov[name] = p
			}
		}
	}
	if len(prov) > 0 {
		over.Provider = prov
	}
	return over, nil
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func atoi(s string) (int, error) { return strconv.Atoi(strings.TrimSpace(s)) }
