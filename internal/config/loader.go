package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix prefixes every docqa environment variable.
	EnvPrefix = "DOCQA_"

	azurePrefix = "AZURE_OPENAI_"
)

// azureEnv maps the Azure OpenAI environment names onto config keys.
var azureEnv = map[string]string{
	"AZURE_OPENAI_ENDPOINT":             "llm.endpoint",
	"AZURE_OPENAI_API_KEY":              "llm.api_key",
	"AZURE_OPENAI_API_VERSION":          "llm.api_version",
	"AZURE_OPENAI_DEPLOYMENT":           "llm.deployment",
	"AZURE_OPENAI_EMBEDDING_DEPLOYMENT": "embeddings.deployment",
}

// DefaultPath returns ~/.config/docqa/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "docqa", "config.yaml"), nil
}

// LoadWithFile loads configuration from defaults, an optional YAML file and
// the environment.
//
// Precedence (highest to lowest):
//  1. DOCQA_* environment variables (DOCQA_SERVER_PORT -> server.port)
//  2. AZURE_OPENAI_* environment variables (model endpoint and credential)
//  3. YAML config file (configPath, or ~/.config/docqa/config.yaml)
//  4. Default()
//
// A missing file is not an error. An explicit configPath that does not
// exist is.
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	explicit := configPath != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		configPath = p
	}

	content, err := readConfigFile(configPath)
	switch {
	case errors.Is(err, os.ErrNotExist) && !explicit:
	case err != nil:
		return nil, err
	default:
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// AZURE_OPENAI_KEY is the older name; load it first so AZURE_OPENAI_API_KEY wins.
	if err := k.Load(env.Provider(azurePrefix, ".", func(s string) string {
		if s == "AZURE_OPENAI_KEY" {
			return "llm.api_key"
		}
		return ""
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if err := k.Load(env.Provider(azurePrefix, ".", func(s string) string {
		return azureEnv[s]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envKey maps DOCQA_SECTION_FIELD_NAME to section.field_name. Section names
// contain no underscores, so the first underscore is the separator.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// readConfigFile reads the YAML file after checking size and permissions
// on the already-opened descriptor.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %s: %w", path, os.ErrNotExist)
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// validateConfigFileProperties rejects directories, oversized files and
// world-writable files (the file may carry credentials).
func validateConfigFileProperties(info os.FileInfo) error {
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", info.Name())
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o002 != 0 {
		return fmt.Errorf("insecure config file permissions: %v (world-writable)", info.Mode().Perm())
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
