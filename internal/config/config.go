// Package config loads the agent configuration: defaults, overlaid by an
// optional YAML file, overlaid by environment variables. Command line flags
// are applied on top by main.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Browser BrowserConfig `yaml:"browser"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type StorageConfig struct {
	JobDir    string `yaml:"job_dir"`
	LogDir    string `yaml:"log_dir"`
	ReportDir string `yaml:"report_dir"`
}

type BrowserConfig struct {
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads the configuration from path. A missing file is not an error; the
// defaults keep the on-disk layout of existing agent installations.
func Load(path string) (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Addr: "localhost:8080",
		},
		Storage: StorageConfig{
			JobDir:    "rpas_cargados",
			LogDir:    "logs_rpa",
			ReportDir: "Reportes",
		},
		Browser: BrowserConfig{
			NavigationTimeout: 60 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(config)
			return config, nil
		}
		return nil, fmt.Errorf("failed reading config file: %w", err)
	}
	if err = yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed parsing config file: %w", err)
	}

	applyEnv(config)
	return config, nil
}

func applyEnv(config *Config) {
	if addr := os.Getenv("RPA_AGENT_ADDR"); addr != "" {
		config.Server.Addr = addr
	}
	if dir := os.Getenv("RPA_AGENT_JOB_DIR"); dir != "" {
		config.Storage.JobDir = dir
	}
	if dir := os.Getenv("RPA_AGENT_LOG_DIR"); dir != "" {
		config.Storage.LogDir = dir
	}
	if dir := os.Getenv("RPA_AGENT_REPORT_DIR"); dir != "" {
		config.Storage.ReportDir = dir
	}
	if level := os.Getenv("RPA_AGENT_LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
}
