package main

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"strings"

	"datasmith/internal/config"
)

// loadDotEnv 读取 .env 并注入进程环境，不覆盖已存在的变量。
// 格式：KEY=VALUE；跳过空行与 # 注释；支持 "export " 前缀；
// 成对引号会被去除，双引号内处理 \n \t \r \" \\ 转义。文件不存在不视为错误。
func loadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		key, val, ok := parseEnvLine(s.Text())
		if !ok {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, val)
	}
	return s.Err()
}

var dquoteEscapes = strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\r`, "\r", `\"`, `"`, `\\`, `\`)

func parseEnvLine(line string) (string, string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
	key, val, found := strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" {
		return "", "", false
	}
	val = strings.TrimSpace(val)
	if n := len(val); n >= 2 {
		switch {
		case val[0] == '\'' && val[n-1] == '\'':
			val = val[1 : n-1]
		case val[0] == '"' && val[n-1] == '"':
			val = dquoteEscapes.Replace(val[1 : n-1])
		}
	}
	return key, val, true
}

// writeDotEnv 生成 .env 模板；文件已存在时跳过（不覆盖、不合并）。
func writeDotEnv(path string) error {
	p := config.EnvPrefix
	var b strings.Builder
	b.WriteString("# datasmith .env 模板（由 init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > 配置文件；空值表示未设置。\n\n")

	b.WriteString("# 配置文件路径\n")
	b.WriteString(p + "CONFIG_FILE=\n\n")

	b.WriteString("# 运行参数覆盖\n")
	for _, k := range []string{"LLM", "CONCURRENCY", "MAX_RETRIES", "REQUEST_TIMEOUT_SECONDS", "LOG_LEVEL", "LOG_DIR"} {
		b.WriteString(p + k + "=\n")
	}
	b.WriteString("\n# 组件选择\n")
	for _, k := range []string{"READER", "CODEC", "WRITER", "BATCHER", "PROMPT_BUILDER", "DECODER", "ROW_SYNTHESIZER", "PLANNER"} {
		b.WriteString(p + "COMPONENTS_" + k + "=\n")
	}
	b.WriteString("\n# HTTP 服务\n")
	for _, k := range []string{"ADDR", "UPLOAD_DIR", "RESULT_DIR", "ALLOWED_ORIGINS"} {
		b.WriteString(p + "SERVER_" + k + "=\n")
	}
	for _, name := range []string{"openai", "gemini"} {
		b.WriteString("\n# Provider 覆盖（" + name + "）\n")
		for _, k := range []string{"CLIENT", "LIMITS_RPM", "LIMITS_TPM", "LIMITS_MAX_TOKENS_PER_REQ", "OPTIONS_JSON"} {
			b.WriteString(p + "PROVIDER__" + name + "__" + k + "=\n")
		}
	}
	// 由 Provider 客户端按 api_key_env 读取，不带前缀
	b.WriteString("\n# 常见供应商 API Key\n")
	b.WriteString("OPENAI_API_KEY=\n")
	b.WriteString("GOOGLE_API_KEY=\n")

	err := writeExclusive(path, b.String())
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	return err
}
