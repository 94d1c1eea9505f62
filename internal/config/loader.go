package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix scopes every environment override.
	EnvPrefix = "AUTOPILOT_"

	maxConfigFileSize = 1024 * 1024 // 1MB
)

// DotEnvFiles are loaded, when present, before environment overrides are read.
var DotEnvFiles = []string{".env", ".env.local"}

// nestedSections have a second level of keys (platforms.twitter.*, ai.text.*).
var nestedSections = map[string]map[string]bool{
	"platforms": {"twitter": true, "discord": true, "reddit": true},
	"ai":        {"text": true, "image": true},
}

// listKeys are comma-separated in the environment.
var listKeys = map[string]bool{
	"state.redis_addrs": true,
}

// Load loads configuration from defaults, an optional YAML file, .env files and
// environment variables, in increasing order of precedence.
//
// An empty path falls back to $AUTOPILOT_CONFIG; when that is empty too only
// defaults and the environment are used.
func Load(path string) (*Config, error) {
	for _, f := range DotEnvFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		// Load never overrides variables already set in the process.
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}

	k := koanf.New(".")

	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// envTransform maps AUTOPILOT_SECTION_FIELD_NAME to section.field_name and
// AUTOPILOT_PLATFORMS_TWITTER_BEARER_TOKEN to platforms.twitter.bearer_token.
func envTransform(key, value string) (string, interface{}) {
	lower := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower, value
	}

	section, rest := parts[0], parts[1]
	path := section + "." + rest
	if subs, ok := nestedSections[section]; ok {
		sub := strings.SplitN(rest, "_", 2)
		if len(sub) == 2 && subs[sub[0]] {
			path = section + "." + sub[0] + "." + sub[1]
		}
	}

	if listKeys[path] {
		items := strings.Split(value, ",")
		out := make([]string, 0, len(items))
		for _, item := range items {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		return path, out
	}
	return path, value
}
