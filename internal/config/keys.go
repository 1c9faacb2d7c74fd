package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Credentials 为交易所 API 密钥。
type Credentials struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	APIPass   string `yaml:"api_password"`
}

// Empty 判断是否未配置密钥。
func (c Credentials) Empty() bool {
	return c.APIKey == "" && c.APISecret == ""
}

// LoadCredentials 从 YAML 密钥文件读取 API 密钥，环境变量可覆盖文件内容。
func LoadCredentials(path string) (Credentials, error) {
	var creds Credentials

	raw, err := os.ReadFile(path)
	if err != nil {
		return creds, fmt.Errorf("读取密钥文件 %q 失败: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &creds); err != nil {
		return creds, fmt.Errorf("解析密钥文件 %q 失败: %w", path, err)
	}

	applyCredentialEnv(&creds)

	creds.APIKey = strings.TrimSpace(creds.APIKey)
	creds.APISecret = strings.TrimSpace(creds.APISecret)
	if (creds.APIKey == "") != (creds.APISecret == "") {
		return creds, errors.New("密钥文件需同时提供 api_key 与 api_secret")
	}

	return creds, nil
}

// CredentialsFromEnv 仅从环境变量读取 API 密钥。
func CredentialsFromEnv() Credentials {
	var creds Credentials
	applyCredentialEnv(&creds)
	return creds
}

func applyCredentialEnv(creds *Credentials) {
	if v := os.Getenv("LADDER_API_KEY"); v != "" {
		creds.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("LADDER_API_SECRET"); v != "" {
		creds.APISecret = strings.TrimSpace(v)
	}
	if v := os.Getenv("LADDER_API_PASSWORD"); v != "" {
		creds.APIPass = v
	}
}
