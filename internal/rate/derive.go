package rate

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"datasmith/pkg/contract"
)

// offline: 不访问网络的客户端；未给出 api_key 时按客户端名单独分组。
var offline = map[string]bool{"mock": true, "flaky": true}

type keyOptions struct {
	APIKey    string `json:"api_key"`
	APIKeyEnv string `json:"api_key_env"`
}

// DeriveKey 由 provider 的 client 名与 options 中的 API Key（api_key 或 api_key_env 指向的变量）
// 构造分组键 "<client>:<sha256 前 8 字节>"，密钥本身不进入键与日志。
func DeriveKey(client string, opts json.RawMessage) (LimitKey, error) {
	var o keyOptions
	if len(opts) > 0 {
		if err := json.Unmarshal(opts, &o); err != nil {
			return "", fmt.Errorf("rate: %w: provider options: %v", contract.ErrInvalidInput, err)
		}
	}
	secret := o.APIKey
	if secret == "" && o.APIKeyEnv != "" {
		secret = os.Getenv(o.APIKeyEnv)
	}
	if secret == "" {
		if !offline[client] {
			return "", fmt.Errorf("rate: %w: no api key for client %q", contract.ErrInvalidInput, client)
		}
		secret = "offline"
	}
	sum := sha256.Sum256([]byte(secret))
	return LimitKey(client + ":" + hex.EncodeToString(sum[:8])), nil
}
