package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values exported for documentation and validation
const (
	DefaultBind            = "127.0.0.1:4466"
	DefaultPortStart       = 3136
	DefaultPortEnd         = 3999
	DefaultApprovalTimeout = 60 * time.Second
	DefaultHeartbeat       = 30 * time.Second
	DefaultReadyTimeout    = 30 * time.Second
	DefaultReadyPath       = "/"
	DefaultLogLevel        = "info"
	maxPort                = 65535
	defaultPortSpan        = 863
)

// Config represents the complete Stagehand configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Preview  PreviewConfig  `yaml:"preview"`
	Approval ApprovalConfig `yaml:"approval"`
	Hub      HubConfig      `yaml:"hub"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig controls the HTTP listener
type ServerConfig struct {
	Bind string `yaml:"bind"`
}

// PreviewConfig controls dev server processes spawned per project
type PreviewConfig struct {
	// Command is the dev server argv. "{port}" placeholders are substituted
	// with the allocated port; the PORT env var is always set.
	Command       []string `yaml:"command"`
	WorkspaceRoot string   `yaml:"workspace_root"`
	// Port is shorthand for port_start; the end of the range is derived.
	Port             int    `yaml:"port"`
	PortStart        int    `yaml:"port_start"`
	PortEnd          int    `yaml:"port_end"`
	ReadyTimeoutSecs int    `yaml:"ready_timeout_seconds"`
	ReadyPath        string `yaml:"ready_path"`
}

// ApprovalConfig controls the permission broker
type ApprovalConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
	// Mode is ask, auto, or yolo. See the approval package.
	Mode string `yaml:"mode"`
}

// HubConfig controls per-project event fan-out
type HubConfig struct {
	HeartbeatSeconds int `yaml:"heartbeat_seconds"`
}

// StorageConfig controls the SQLite store
type StorageConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig controls structured event logs
type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

// DefaultConfig returns the configuration used when no file or overrides exist
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	stateDir := filepath.Join(home, ".stagehand")

	return &Config{
		Server: ServerConfig{
			Bind: DefaultBind,
		},
		Preview: PreviewConfig{
			Command:          []string{"npm", "run", "dev", "--", "--port", "{port}"},
			PortStart:        DefaultPortStart,
			PortEnd:          DefaultPortEnd,
			ReadyTimeoutSecs: int(DefaultReadyTimeout / time.Second),
			ReadyPath:        DefaultReadyPath,
		},
		Approval: ApprovalConfig{
			TimeoutSeconds: int(DefaultApprovalTimeout / time.Second),
			Mode:           "ask",
		},
		Hub: HubConfig{
			HeartbeatSeconds: int(DefaultHeartbeat / time.Second),
		},
		Storage: StorageConfig{
			Path: filepath.Join(stateDir, "stagehand.db"),
		},
		Logging: LoggingConfig{
			Dir:   filepath.Join(stateDir, "logs"),
			Level: DefaultLogLevel,
		},
	}
}

// Load loads configuration from default locations with proper precedence
func Load() (*Config, error) {
	cfg := DefaultConfig()

	// Load user config (~/.stagehand/config.yaml)
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home != "" {
		userConfigPath := filepath.Join(home, ".stagehand", "config.yaml")
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading user config: %w", err)
		}
	}

	// Load project config (./.stagehand/config.yaml)
	projectConfigPath := filepath.Join(".", ".stagehand", "config.yaml")
	if err := loadAndMerge(cfg, projectConfigPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := loadAndMerge(cfg, path); err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// loadAndMerge loads a YAML file and merges it into the config.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STAGEHAND_BIND"); v != "" {
		cfg.Server.Bind = v
	}
	if v := os.Getenv("STAGEHAND_DB_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("STAGEHAND_LOG_DIR"); v != "" {
		cfg.Logging.Dir = v
	}
	if v := os.Getenv("STAGEHAND_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("STAGEHAND_PREVIEW_COMMAND"); v != "" {
		cfg.Preview.Command = strings.Fields(v)
	}
	if v := os.Getenv("STAGEHAND_WORKSPACE_ROOT"); v != "" {
		cfg.Preview.WorkspaceRoot = v
	}
	if v := strings.TrimSpace(os.Getenv("STAGEHAND_PORT_START")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Preview.PortStart = n
			cfg.Preview.Port = 0
		}
	}
	if v := strings.TrimSpace(os.Getenv("STAGEHAND_PORT_END")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Preview.PortEnd = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("STAGEHAND_APPROVAL_TIMEOUT_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Approval.TimeoutSeconds = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("STAGEHAND_APPROVAL_MODE")); v != "" {
		cfg.Approval.Mode = v
	}
	if v := strings.TrimSpace(os.Getenv("STAGEHAND_HEARTBEAT_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Hub.HeartbeatSeconds = n
		}
	}
}

// normalize resolves shorthand fields and expands paths.
func (c *Config) normalize() {
	// preview.port is shorthand for the start of the probe band
	if c.Preview.Port != 0 {
		c.Preview.PortStart = c.Preview.Port
		end := c.Preview.Port + defaultPortSpan
		if end > maxPort {
			end = maxPort
		}
		c.Preview.PortEnd = end
	}
	c.Preview.WorkspaceRoot = expandHomeDir(c.Preview.WorkspaceRoot)
	c.Storage.Path = expandHomeDir(c.Storage.Path)
	c.Logging.Dir = expandHomeDir(c.Logging.Dir)
}

// Validate checks the configuration for contradictions
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Server.Bind); err != nil {
		return fmt.Errorf("server.bind %q: %w", c.Server.Bind, err)
	}
	if len(c.Preview.Command) == 0 {
		return fmt.Errorf("preview.command cannot be empty")
	}
	if c.Preview.PortStart < 1 || c.Preview.PortStart > maxPort {
		return fmt.Errorf("preview.port_start %d out of range", c.Preview.PortStart)
	}
	if c.Preview.PortEnd < c.Preview.PortStart || c.Preview.PortEnd > maxPort {
		return fmt.Errorf("preview.port_end %d invalid for start %d", c.Preview.PortEnd, c.Preview.PortStart)
	}
	if c.Preview.ReadyTimeoutSecs <= 0 {
		return fmt.Errorf("preview.ready_timeout_seconds must be positive")
	}
	if c.Approval.TimeoutSeconds <= 0 {
		return fmt.Errorf("approval.timeout_seconds must be positive")
	}
	switch c.Approval.Mode {
	case "ask", "auto", "yolo":
	default:
		return fmt.Errorf("approval.mode %q not recognized", c.Approval.Mode)
	}
	if c.Hub.HeartbeatSeconds <= 0 {
		return fmt.Errorf("hub.heartbeat_seconds must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q not recognized", c.Logging.Level)
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path cannot be empty")
	}
	return nil
}

// ApprovalTimeout returns the broker timeout as a duration.
func (c *Config) ApprovalTimeout() time.Duration {
	return time.Duration(c.Approval.TimeoutSeconds) * time.Second
}

// HeartbeatInterval returns the hub heartbeat cadence as a duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Hub.HeartbeatSeconds) * time.Second
}

// ReadyTimeout returns the preview readiness deadline as a duration.
func (c *Config) ReadyTimeout() time.Duration {
	return time.Duration(c.Preview.ReadyTimeoutSecs) * time.Second
}

// ResolveWorkspaceRoot returns the absolute directory previews run in.
// Preference order:
//  1. Explicit preview.workspace_root
//  2. Current working directory if no override is provided
func ResolveWorkspaceRoot(cfg *Config) string {
	if cfg != nil {
		root := strings.TrimSpace(cfg.Preview.WorkspaceRoot)
		root = expandHomeDir(root)
		if root != "" {
			if abs, err := filepath.Abs(root); err == nil {
				return abs
			}
			return root
		}
	}
	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}
	return "."
}

func expandHomeDir(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
