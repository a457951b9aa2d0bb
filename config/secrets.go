package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/hashicorp/vault/api"
)

// SecretPrefix marks a password value that must be looked up through the secret provider,
// e.g. "secret:mysql_main_password".
const SecretPrefix = "secret:"

// SecretsConfig selects where server passwords referenced with SecretPrefix come from.
type SecretsConfig struct {
	Provider string `mapstructure:"provider" yaml:"provider" validate:"omitempty,oneof=env vault aws"`
	Vault    struct {
		Address string `mapstructure:"address" yaml:"address,omitempty"`
		Token   string `mapstructure:"token" yaml:"-"`
		Path    string `mapstructure:"path" yaml:"path,omitempty"`
	} `mapstructure:"vault" yaml:"vault,omitempty"`
	AWS struct {
		Region    string `mapstructure:"region" yaml:"region,omitempty"`
		SecretID  string `mapstructure:"secret_id" yaml:"secret_id,omitempty"`
		AccessKey string `mapstructure:"access_key" yaml:"-"`
		SecretKey string `mapstructure:"secret_key" yaml:"-"`
	} `mapstructure:"aws" yaml:"aws,omitempty"`
}

// SecretManager retrieves secrets by key
type SecretManager interface {
	GetSecret(key string) (string, error)
}

// EnvSecretManager uses environment variables (default)
type EnvSecretManager struct{}

func (e *EnvSecretManager) GetSecret(key string) (string, error) {
	envKey := "BACKBONE_" + strings.ToUpper(key)
	value := os.Getenv(envKey)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set", envKey)
	}
	return value, nil
}

// VaultSecretManager retrieves secrets from HashiCorp Vault
type VaultSecretManager struct {
	path   string
	client *api.Client
}

func NewVaultSecretManager(cfg SecretsConfig) (*VaultSecretManager, error) {
	client, err := api.NewClient(&api.Config{
		Address: cfg.Vault.Address,
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	if cfg.Vault.Token != "" {
		client.SetToken(cfg.Vault.Token)
	} else if token := os.Getenv("VAULT_TOKEN"); token != "" {
		client.SetToken(token)
	}

	path := cfg.Vault.Path
	if path == "" {
		path = "secret/backbone"
	}

	return &VaultSecretManager{path: path, client: client}, nil
}

func (v *VaultSecretManager) GetSecret(key string) (string, error) {
	secret, err := v.client.Logical().Read(v.path)
	if err != nil {
		return "", fmt.Errorf("failed to read from Vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("secret not found at path %s", v.path)
	}

	data := secret.Data
	// KV v2 nests the payload under "data"
	if nested, ok := data["data"].(map[string]interface{}); ok {
		data = nested
	}

	value, ok := data[key]
	if !ok {
		return "", fmt.Errorf("key %s not found in Vault secret", key)
	}
	strValue, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("secret value for key %s is not a string", key)
	}
	return strValue, nil
}

// AWSSecretManager retrieves secrets from AWS Secrets Manager
type AWSSecretManager struct {
	secretID string
	client   *secretsmanager.SecretsManager
}

func NewAWSSecretManager(cfg SecretsConfig) (*AWSSecretManager, error) {
	awsCfg := &aws.Config{Region: aws.String(cfg.AWS.Region)}
	if cfg.AWS.AccessKey != "" && cfg.AWS.SecretKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AWS.AccessKey, cfg.AWS.SecretKey, "")
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	secretID := cfg.AWS.SecretID
	if secretID == "" {
		secretID = "backbone/secrets"
	}

	return &AWSSecretManager{secretID: secretID, client: secretsmanager.New(sess)}, nil
}

func (a *AWSSecretManager) GetSecret(key string) (string, error) {
	result, err := a.client.GetSecretValue(&secretsmanager.GetSecretValueInput{
		SecretId: aws.String(a.secretID),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get secret from AWS: %w", err)
	}
	if result.SecretString == nil {
		return "", fmt.Errorf("AWS secret %s has no string value", a.secretID)
	}

	var secrets map[string]string
	if err := json.Unmarshal([]byte(*result.SecretString), &secrets); err != nil {
		return "", fmt.Errorf("failed to parse AWS secret JSON: %w", err)
	}

	value, ok := secrets[key]
	if !ok {
		return "", fmt.Errorf("key %s not found in AWS secret", key)
	}
	return value, nil
}

// NewSecretManager creates the secret manager selected by cfg.Provider
func NewSecretManager(cfg SecretsConfig) (SecretManager, error) {
	switch cfg.Provider {
	case "", "env":
		return &EnvSecretManager{}, nil
	case "vault":
		return NewVaultSecretManager(cfg)
	case "aws":
		return NewAWSSecretManager(cfg)
	default:
		return nil, fmt.Errorf("unsupported secret provider: %s", cfg.Provider)
	}
}

// ResolveSecrets replaces every Redis and database server password of the form
// "secret:<key>" with the value from manager. Plain passwords are left untouched.
func ResolveSecrets(cfg *Config, manager SecretManager) error {
	for i := range cfg.Redis.Servers {
		resolved, err := resolveSecret(manager, cfg.Redis.Servers[i].Password)
		if err != nil {
			return fmt.Errorf("redis server %s: %w", cfg.Redis.Servers[i].Server, err)
		}
		cfg.Redis.Servers[i].Password = resolved
	}

	for i := range cfg.Database.Servers {
		resolved, err := resolveSecret(manager, cfg.Database.Servers[i].Password)
		if err != nil {
			return fmt.Errorf("database server %s: %w", cfg.Database.Servers[i].Server, err)
		}
		cfg.Database.Servers[i].Password = resolved
	}

	return nil
}

// LoadSecrets builds the configured secret manager and resolves all server passwords.
func LoadSecrets(cfg *Config) error {
	if !hasSecretReferences(cfg) {
		return nil
	}
	manager, err := NewSecretManager(cfg.Secrets)
	if err != nil {
		return fmt.Errorf("failed to create secret manager: %w", err)
	}
	return ResolveSecrets(cfg, manager)
}

func resolveSecret(manager SecretManager, value string) (string, error) {
	key, ok := strings.CutPrefix(value, SecretPrefix)
	if !ok {
		return value, nil
	}
	if key == "" {
		return "", fmt.Errorf("empty secret reference")
	}
	return manager.GetSecret(key)
}

func hasSecretReferences(cfg *Config) bool {
	for _, s := range cfg.Redis.Servers {
		if strings.HasPrefix(s.Password, SecretPrefix) {
			return true
		}
	}
	for _, s := range cfg.Database.Servers {
		if strings.HasPrefix(s.Password, SecretPrefix) {
			return true
		}
	}
	return false
}
