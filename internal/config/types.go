package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// 键名使用 snake_case；未知字段在解析期失败。
type Config struct {
	Concurrency int `yaml:"concurrency" json:"concurrency" validate:"gte=1"`
	// MaxRetries: 每个工作单元的最大重试次数（>=0）。0 表示不重试；-1 仅用于 Merge 表示未覆盖。
	MaxRetries            int `yaml:"max_retries" json:"max_retries" validate:"gte=0"`
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds" json:"request_timeout_seconds" validate:"gte=0"`
	// BytesPerToken: token 估算系数；0 使用默认 4。
	BytesPerToken int     `yaml:"bytes_per_token" json:"bytes_per_token" validate:"gte=0"`
	Logging       Logging `yaml:"logging" json:"logging"`

	// LLM Provider 选择与定义。
	LLM      string              `yaml:"llm" json:"llm"`
	Provider map[string]Provider `yaml:"provider" json:"provider" validate:"dive"`

	// 各类请求的生成参数覆盖。
	Generation Generation `yaml:"generation" json:"generation"`

	// 组件名选择（空则使用默认名）。
	Components Components `yaml:"components" json:"components"`
	// 各组件 Options 子树，转为 JSON 后传入工厂。
	Options Options `yaml:"options" json:"options"`

	Server Server `yaml:"server" json:"server"`
}

// Logging: 日志等级与目录；轮转策略为固定默认。
type Logging struct {
	Level string `yaml:"level" json:"level"`
	Dir   string `yaml:"dir" json:"dir"`
}

// Generation: 修正/行合成/配置合成三类请求的参数。
type Generation struct {
	Correct GenParams `yaml:"correct" json:"correct"`
	Rows    GenParams `yaml:"rows" json:"rows"`
	Plan    GenParams `yaml:"plan" json:"plan"`
}

// GenParams: 零值表示沿用组件默认。
type GenParams struct {
	Model       string   `yaml:"model" json:"model"`
	MaxTokens   int      `yaml:"max_tokens" json:"max_tokens" validate:"gte=0"`
	Temperature *float64 `yaml:"temperature" json:"temperature" validate:"omitnil,gte=0,lte=2"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Reader         string `yaml:"reader" json:"reader"`
	Codec          string `yaml:"codec" json:"codec"`
	Writer         string `yaml:"writer" json:"writer"`
	Batcher        string `yaml:"batcher" json:"batcher"`
	PromptBuilder  string `yaml:"prompt_builder" json:"prompt_builder"`
	Decoder        string `yaml:"decoder" json:"decoder"`
	RowSynthesizer string `yaml:"row_synthesizer" json:"row_synthesizer"`
	Planner        string `yaml:"planner" json:"planner"`
}

// Options: 各组件的选项子树。
type Options struct {
	Reader         RawOptions `yaml:"reader" json:"reader"`
	Codec          RawOptions `yaml:"codec" json:"codec"`
	Writer         RawOptions `yaml:"writer" json:"writer"`
	Batcher        RawOptions `yaml:"batcher" json:"batcher"`
	PromptBuilder  RawOptions `yaml:"prompt_builder" json:"prompt_builder"`
	Decoder        RawOptions `yaml:"decoder" json:"decoder"`
	RowSynthesizer RawOptions `yaml:"row_synthesizer" json:"row_synthesizer"`
	Planner        RawOptions `yaml:"planner" json:"planner"`
}

// RawOptions: 未解释的选项对象；严格字段校验在 registry 工厂中进行。
type RawOptions map[string]any

// JSON 返回选项的 JSON 形式；空选项返回 nil（工厂使用默认值）。
func (o RawOptions) JSON() (json.RawMessage, error) {
	if len(o) == 0 {
		return nil, nil
	}
	return json.Marshal(map[string]any(o))
}

// Provider: 命名 provider 定义（client 实现 + options + 限额）。
type Provider struct {
	Client  string     `yaml:"client" json:"client"`
	Options RawOptions `yaml:"options" json:"options"`
	Limits  Limits     `yaml:"limits" json:"limits"`
}

// Limits: 限流配置（仅承载；执行位于 rate.Gate）。
type Limits struct {
	RPM             int `yaml:"rpm" json:"rpm" validate:"gte=0"`
	TPM             int `yaml:"tpm" json:"tpm" validate:"gte=0"`
	MaxTokensPerReq int `yaml:"max_tokens_per_req" json:"max_tokens_per_req" validate:"gte=0"`
}

// Server: HTTP 服务配置。
type Server struct {
	Addr           string   `yaml:"addr" json:"addr"`
	UploadDir      string   `yaml:"upload_dir" json:"upload_dir"`
	ResultDir      string   `yaml:"result_dir" json:"result_dir"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	MaxUploadMB    int      `yaml:"max_upload_mb" json:"max_upload_mb" validate:"gte=0"`
}
