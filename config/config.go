package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"squadstream/log"
)

const ConfigFileName = "config.json"

// Config represents the application configuration
type Config struct {
	// DefaultShell is the shell used to run commands when a caller doesn't override it.
	// Empty means $SHELL, falling back to /bin/sh.
	DefaultShell string `json:"default_shell"`
	// ExtraPath is prepended to PATH for every spawned process.
	ExtraPath []string `json:"extra_path,omitempty"`
	// BufferMaxChars is the character budget of each key's output buffer.
	BufferMaxChars int `json:"buffer_max_chars"`
	// BufferMaxEntries caps the number of entries in each output buffer. 0 disables the cap.
	BufferMaxEntries int `json:"buffer_max_entries"`
	// BatchDelayMs is the coalescing delay for batched subscriptions.
	BatchDelayMs int `json:"batch_delay_ms"`
	// FrameIntervalMs is the redraw frame of the local view.
	FrameIntervalMs int `json:"frame_interval_ms"`
	// KillGracePeriodMs is how long a process group gets between SIGTERM and SIGKILL.
	KillGracePeriodMs int `json:"kill_grace_period_ms"`
	// SubscriptionHighWaterMark disconnects in-process subscribers whose queue grows past it.
	// 0 keeps queues unbounded.
	SubscriptionHighWaterMark int `json:"subscription_high_water_mark"`
	// WebHighWaterMark is the high water mark applied to remote subscribers.
	WebHighWaterMark int `json:"web_high_water_mark"`
	// WatchIntervalMs is the polling interval of the file and git status watchers.
	WatchIntervalMs int `json:"watch_interval_ms"`

	WebServerHost      string `json:"web_server_host"`
	WebServerPort      int    `json:"web_server_port"`
	WebServerAuthToken string `json:"web_server_auth_token,omitempty"`
	// WebServerAllowLocalhost skips token auth for loopback clients.
	WebServerAllowLocalhost bool `json:"web_server_allow_localhost"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		BufferMaxChars:          200_000,
		BufferMaxEntries:        0,
		BatchDelayMs:            16,
		FrameIntervalMs:         16,
		KillGracePeriodMs:       2000,
		WebHighWaterMark:        100_000,
		WatchIntervalMs:         1000,
		WebServerHost:           "127.0.0.1",
		WebServerPort:           8085,
		WebServerAllowLocalhost: true,
	}
}

// Shell returns the shell to spawn commands with.
func (c *Config) Shell() string {
	if c.DefaultShell != "" {
		return c.DefaultShell
	}
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "/bin/sh"
}

func (c *Config) BatchDelay() time.Duration {
	return time.Duration(c.BatchDelayMs) * time.Millisecond
}

func (c *Config) FrameInterval() time.Duration {
	return time.Duration(c.FrameIntervalMs) * time.Millisecond
}

func (c *Config) KillGracePeriod() time.Duration {
	return time.Duration(c.KillGracePeriodMs) * time.Millisecond
}

func (c *Config) WatchInterval() time.Duration {
	return time.Duration(c.WatchIntervalMs) * time.Millisecond
}

// WebServerAddr returns the host:port the web server listens on.
func (c *Config) WebServerAddr() string {
	return fmt.Sprintf("%s:%d", c.WebServerHost, c.WebServerPort)
}

// GetConfigDir returns the path to the application's configuration directory
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".squadstream"), nil
}

// LoadConfig loads the configuration from disk. If it cannot be done, we return the default
// configuration along with the error.
func LoadConfig() (*Config, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return DefaultConfig(), err
	}
	return LoadConfigFrom(filepath.Join(configDir, ConfigFileName))
}

// LoadConfigFrom loads the configuration from the given path. Missing fields keep their
// default values. A missing file is created with the defaults.
func LoadConfigFrom(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			defaultCfg := DefaultConfig()
			if saveErr := SaveConfigTo(defaultCfg, configPath); saveErr != nil {
				log.WarningLog.Printf("failed to save default config: %v", saveErr)
			}
			return defaultCfg, nil
		}
		return DefaultConfig(), fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return DefaultConfig(), fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveConfig saves the configuration to disk
func SaveConfig(config *Config) error {
	configDir, err := GetConfigDir()
	if err != nil {
		return err
	}
	return SaveConfigTo(config, filepath.Join(configDir, ConfigFileName))
}

// SaveConfigTo saves the configuration to the given path, creating its directory.
func SaveConfigTo(config *Config, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(configPath, data, 0644)
}
