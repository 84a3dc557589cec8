package config

// TemplateYAML: init-config 生成的默认配置模板。
// 使用 mock LLM（离线可运行）；openai/gemini 给出全部选项键，按需切换 llm。
const TemplateYAML = `# datasmith 配置（优先级：CLI > ENV(.env) > 本文件 > 默认值）
concurrency: 1
max_retries: 2
request_timeout_seconds: 60
bytes_per_token: 4

logging:
  level: info
  dir: logs

llm: mock

provider:
  mock:
    client: mock
    options:
      prefix: MOCK
      api_key: ""
    limits: {rpm: 60, tpm: 100000, max_tokens_per_req: 8000}
  openai:
    client: openai
    options:
      base_url: https://api.openai.com/v1
      model: gpt-4o-mini
      api_key_env: OPENAI_API_KEY
      timeout_seconds: 60
      endpoint_path: ""
      disable_default_auth: false
      extra_headers: {}
      json_object_for_plan: true
    limits: {rpm: 0, tpm: 0, max_tokens_per_req: 0}
  gemini:
    client: gemini
    options:
      base_url: ""
      model: gemini-2.5-flash
      api_key_env: GOOGLE_API_KEY
      timeout_seconds: 60
      extra_headers: {}
    limits: {rpm: 0, tpm: 0, max_tokens_per_req: 0}

generation:
  correct: {max_tokens: 1000, temperature: 0.3}
  rows: {max_tokens: 2000, temperature: 0.7}
  plan: {max_tokens: 1000, temperature: 0.3}

components:
  reader: fs
  codec: csv
  writer: fs
  batcher: eligible
  prompt_builder: correct
  decoder: correction
  row_synthesizer: fewshot
  planner: nl

options:
  reader: {buf_size: 65536, extensions: [".csv"]}
  codec: {delimiter: ",", lazy_quotes: false, crlf: false}
  writer: {atomic: true, backup: false}
  batcher: {default_batch_size: 10, max_batch_tokens: 0}
  prompt_builder: {inline_system_template: "", system_template_path: ""}
  decoder: {index_key: Index, strict: false}
  row_synthesizer: {sample_size: 5, seed: 0}
  planner: {extra_rules: []}

server:
  addr: ":8000"
  upload_dir: uploads
  result_dir: results
  allowed_origins: ["*"]
  max_upload_mb: 32
`

// DefaultTemplateConfig 返回模板解析后的 Config（与 Defaults 合并）。
func DefaultTemplateConfig() (Config, error) {
	cfg, err := Load("template", []byte(TemplateYAML))
	if err != nil {
		return Config{}, err
	}
	return Merge(Defaults(), cfg), nil
}
