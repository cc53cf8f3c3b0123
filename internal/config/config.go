package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all breviasync settings.
type Config struct {
	API     APIConfig     `yaml:"api"`
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Worker  WorkerConfig  `yaml:"worker"`
}

// APIConfig configures the Brevia index-service client.
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// ServerConfig configures the event webhook server.
type ServerConfig struct {
	Port    int    `yaml:"port"`
	MCPPort int    `yaml:"mcp_port"`
	Token   string `yaml:"token"`
}

type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

type WorkerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

func defaults() Config {
	return Config{
		API: APIConfig{
			Timeout: 30 * time.Second,
		},
		Server: ServerConfig{
			Port:    4010,
			MCPPort: 4011,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Worker: WorkerConfig{
			PollInterval: 500 * time.Millisecond,
		},
	}
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "breviasync")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".breviasync"
	}
	return filepath.Join(home, ".local", "share", "breviasync")
}

// Load reads configuration from an optional YAML file, then applies
// BREVIA_SYNC_* environment overrides. If path is empty the default
// locations are tried; a missing file is not an error.
//
// The API base URL is required and must parse as an absolute URL.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.API.BaseURL == "" {
		return Config{}, fmt.Errorf("missing required config: Brevia API base URL. " +
			"Set api.base_url in the config file or the BREVIA_SYNC_API_URL environment variable")
	}
	u, err := url.Parse(cfg.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return Config{}, fmt.Errorf("invalid Brevia API base URL %q", cfg.API.BaseURL)
	}

	return cfg, nil
}

func findConfigFile() string {
	locations := []string{
		"breviasync.yaml",
		"breviasync.yml",
	}
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		locations = append(locations, filepath.Join(dir, "breviasync", "config.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		locations = append(locations, filepath.Join(home, ".config", "breviasync", "config.yaml"))
	}
	locations = append(locations, "/etc/breviasync/config.yaml")

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}
	return ""
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BREVIA_SYNC_API_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("BREVIA_SYNC_API_TOKEN"); v != "" {
		cfg.API.Token = v
	}
	if v := os.Getenv("BREVIA_SYNC_API_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.API.Timeout = d
		} else {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from BREVIA_SYNC_API_TIMEOUT=%q: %v\n", v, err)
		}
	}
	if v := os.Getenv("BREVIA_SYNC_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = i
		} else {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from BREVIA_SYNC_PORT=%q: %v\n", v, err)
		}
	}
	if v := os.Getenv("BREVIA_SYNC_MCP_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Server.MCPPort = i
		} else {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from BREVIA_SYNC_MCP_PORT=%q: %v\n", v, err)
		}
	}
	if v := os.Getenv("BREVIA_SYNC_SERVER_TOKEN"); v != "" {
		cfg.Server.Token = v
	}
	if v := os.Getenv("BREVIA_SYNC_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
}
