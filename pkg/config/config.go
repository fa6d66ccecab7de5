package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"walletsync/pkg/logger"
)

const ConfigFileName = ".walletsync.json"

// Provider modes.
const (
	ModeBridge = "bridge"
	ModeNode   = "node"
)

// ProviderConfig selects and tunes the wallet provider.
type ProviderConfig struct {
	Mode                 string `json:"mode" yaml:"mode" env:"WALLETSYNC_PROVIDER_MODE"`
	RPCURL               string `json:"rpc_url,omitempty" yaml:"rpc_url,omitempty" env:"WALLETSYNC_RPC_URL"`
	PollIntervalSeconds  int    `json:"poll_interval_seconds" yaml:"poll_interval_seconds" env:"WALLETSYNC_POLL_INTERVAL_SECONDS"`
	DetectTimeoutSeconds int    `json:"detect_timeout_seconds" yaml:"detect_timeout_seconds" env:"WALLETSYNC_DETECT_TIMEOUT_SECONDS"`
}

// Config holds application-wide settings.
type Config struct {
	Provider           ProviderConfig `json:"provider" yaml:"provider"`
	BalanceDecimals    int            `json:"balance_decimals" yaml:"balance_decimals" env:"WALLETSYNC_BALANCE_DECIMALS"`
	ServerPort         int            `json:"server_port" yaml:"server_port" env:"WALLETSYNC_SERVER_PORT"`
	NoticeSeconds      int            `json:"notice_seconds" yaml:"notice_seconds" env:"WALLETSYNC_NOTICE_SECONDS"`
	RevokeOnDisconnect bool           `json:"revoke_on_disconnect" yaml:"revoke_on_disconnect" env:"WALLETSYNC_REVOKE_ON_DISCONNECT"`
	AllowNonMetaMask   bool           `json:"allow_non_metamask" yaml:"allow_non_metamask" env:"WALLETSYNC_ALLOW_NON_METAMASK"`
	LogLevel           string         `json:"log_level" yaml:"log_level" env:"WALLETSYNC_LOG_LEVEL"`
	LogFile            string         `json:"log_file,omitempty" yaml:"log_file,omitempty" env:"WALLETSYNC_LOG_FILE"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Provider: ProviderConfig{
			Mode:                 ModeBridge,
			PollIntervalSeconds:  4,
			DetectTimeoutSeconds: 30,
		},
		BalanceDecimals: 4,
		ServerPort:      8546,
		NoticeSeconds:   3,
		LogLevel:        "info",
	}
}

// PollInterval is the node provider's change-detection period.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Provider.PollIntervalSeconds) * time.Second
}

// DetectTimeout bounds how long detection waits for a browser to attach.
func (c Config) DetectTimeout() time.Duration {
	return time.Duration(c.Provider.DetectTimeoutSeconds) * time.Second
}

// NoticeDuration is how long transient notices stay on screen.
func (c Config) NoticeDuration() time.Duration {
	return time.Duration(c.NoticeSeconds) * time.Second
}

// Validate checks that the configuration can drive a session.
func (c Config) Validate() error {
	switch c.Provider.Mode {
	case ModeBridge:
		if c.ServerPort == 0 {
			return fmt.Errorf("validation failed: bridge mode needs a server_port")
		}
	case ModeNode:
		if strings.TrimSpace(c.Provider.RPCURL) == "" {
			return fmt.Errorf("validation failed: node mode needs provider.rpc_url")
		}
		if c.Provider.PollIntervalSeconds <= 0 {
			return fmt.Errorf("validation failed: provider.poll_interval_seconds must be positive")
		}
	default:
		return fmt.Errorf("validation failed: unknown provider mode %q", c.Provider.Mode)
	}
	if c.Provider.DetectTimeoutSeconds < 0 {
		return fmt.Errorf("validation failed: provider.detect_timeout_seconds must not be negative")
	}
	if c.BalanceDecimals < 0 || c.BalanceDecimals > 18 {
		return fmt.Errorf("validation failed: balance_decimals must be between 0 and 18")
	}
	if c.ServerPort < 0 || c.ServerPort > 65535 {
		return fmt.Errorf("validation failed: server_port %d out of range", c.ServerPort)
	}
	if c.NoticeSeconds < 0 {
		return fmt.Errorf("validation failed: notice_seconds must not be negative")
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

func GetConfigPath(customPath string) (string, error) {
	if customPath != "" {
		return customPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigFileName), nil
}

// LoadConfigFromFile reads path (JSON, or YAML for .yaml/.yml), falling back to
// defaults when the file does not exist, then applies environment overrides.
func LoadConfigFromFile(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return Config{}, err
	default:
		defer func() { _ = f.Close() }()
		if isYAML(path) {
			cfg, err = LoadYAMLConfig(f)
		} else {
			cfg, err = LoadConfig(f)
		}
		if err != nil {
			return Config{}, err
		}
	}
	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig decodes a JSON document over the defaults.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := Default()
	if err := json.NewDecoder(r).Decode(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadYAMLConfig decodes a YAML document over the defaults.
func LoadYAMLConfig(r io.Reader) (Config, error) {
	cfg := Default()
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from WALLETSYNC_* variables that are set.
func ApplyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}

func SaveConfig(cfg Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}

	if len(data) == 0 {
		return fmt.Errorf("validation failed: encoded configuration is empty")
	}

	// Create a backup of the existing file
	if _, err := os.Stat(path); err == nil {
		backupPath := fmt.Sprintf("%s.%s.bak", path, time.Now().Format("20060102-150405"))
		input, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read existing config for backup: %w", err)
		}
		if err := os.WriteFile(backupPath, input, 0644); err != nil {
			return fmt.Errorf("failed to write backup config: %w", err)
		}
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func RestoreLastBackup(configPath string) error {
	matches, err := filepath.Glob(configPath + ".*.bak")
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return fmt.Errorf("no backup files found")
	}
	sort.Strings(matches)
	lastBackup := matches[len(matches)-1]

	data, err := os.ReadFile(lastBackup)
	if err != nil {
		return err
	}
	return os.WriteFile(configPath, data, 0644)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
