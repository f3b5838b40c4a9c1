package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"postal-dispatch/internal/loadgen"
	"postal-dispatch/internal/logger"
	"postal-dispatch/internal/postal"
	"postal-dispatch/internal/server"

	"gopkg.in/yaml.v3"
)

// FileConfig は設定ファイルの構造
type FileConfig struct {
	LogLevel string        `yaml:"log_level" json:"log_level"`
	Server   ServerConfig  `yaml:"server" json:"server"`
	Loadgen  LoadgenConfig `yaml:"loadgen" json:"loadgen"`
}

// ServerConfig はサーバー設定
type ServerConfig struct {
	Addr         string `yaml:"addr" json:"addr"`
	Workers      int    `yaml:"workers" json:"workers"`
	QueueSize    int    `yaml:"queue_size" json:"queue_size"`
	PollInterval string `yaml:"poll_interval" json:"poll_interval"`
	SearchLimit  int    `yaml:"search_limit" json:"search_limit"`
	IdleTimeout  string `yaml:"idle_timeout" json:"idle_timeout"`
	DBFile       string `yaml:"db_file" json:"db_file"`
	BusyMessage  string `yaml:"busy_message" json:"busy_message"`
	APIAddr      string `yaml:"api_addr" json:"api_addr"`
}

// LoadgenConfig は負荷生成設定
type LoadgenConfig struct {
	Preset      string `yaml:"preset" json:"preset"`
	Addr        string `yaml:"addr" json:"addr"`
	Connections int    `yaml:"connections" json:"connections"`
	Concurrency int    `yaml:"concurrency" json:"concurrency"`
	Query       string `yaml:"query" json:"query"`
	Timeout     string `yaml:"timeout" json:"timeout"`
}

// LoadFile は設定ファイルを読み込む
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config FileConfig
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}

	return &config, nil
}

// Level はログレベルを返す。未指定なら INFO
func (f *FileConfig) Level() (logger.Level, error) {
	return logger.ParseLevel(f.LogLevel)
}

// ToServerConfig はFileConfigをserver.Configに変換する
// 未指定の項目はデフォルト値のまま
func (f *FileConfig) ToServerConfig() (server.Config, error) {
	sc := f.Server
	config := server.DefaultConfig()

	if sc.Addr != "" {
		config.Addr = sc.Addr
	}
	if sc.Workers > 0 {
		config.Workers = sc.Workers
	}
	if sc.QueueSize > 0 {
		config.QueueSize = sc.QueueSize
	}
	if sc.PollInterval != "" {
		d, err := parsePositiveDuration(sc.PollInterval)
		if err != nil {
			return config, fmt.Errorf("invalid poll_interval: %w", err)
		}
		config.PollInterval = d
	}
	if sc.SearchLimit > 0 {
		config.SearchLimit = sc.SearchLimit
	}
	if sc.IdleTimeout != "" {
		d, err := time.ParseDuration(sc.IdleTimeout)
		if err != nil {
			return config, fmt.Errorf("invalid idle_timeout: %w", err)
		}
		config.IdleTimeout = d
	}
	if sc.DBFile != "" {
		config.DBFile = sc.DBFile
	}
	config.BusyMessage = sc.BusyMessage
	config.APIAddr = sc.APIAddr

	return config, nil
}

// ToLoadgenConfig はFileConfigをloadgen.Configに変換する
// preset が指定されていればそれを基にする
func (f *FileConfig) ToLoadgenConfig() (loadgen.Config, error) {
	lc := f.Loadgen
	config := loadgen.DefaultConfig()

	if lc.Preset != "" {
		preset, ok := loadgen.GetPreset(lc.Preset)
		if !ok {
			return config, fmt.Errorf("unknown preset: %s", lc.Preset)
		}
		config = preset
	}

	if lc.Addr != "" {
		config.Addr = lc.Addr
	}
	if lc.Connections > 0 {
		config.Connections = lc.Connections
	}
	if lc.Concurrency > 0 {
		config.Concurrency = lc.Concurrency
	}
	if lc.Query != "" {
		config.Query = lc.Query
	}
	if lc.Timeout != "" {
		d, err := parsePositiveDuration(lc.Timeout)
		if err != nil {
			return config, fmt.Errorf("invalid timeout: %w", err)
		}
		config.Timeout = d
	}

	return config, nil
}

func parsePositiveDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive: %s", s)
	}
	return d, nil
}

// Validate は設定を検証する
func (f *FileConfig) Validate() error {
	if _, err := f.Level(); err != nil {
		return err
	}

	sc := f.Server
	if sc.Workers < 0 {
		return fmt.Errorf("server.workers must be non-negative")
	}
	if sc.QueueSize < 0 {
		return fmt.Errorf("server.queue_size must be non-negative")
	}
	if sc.SearchLimit < 0 {
		return fmt.Errorf("server.search_limit must be non-negative")
	}

	lc := f.Loadgen
	if lc.Connections < 0 {
		return fmt.Errorf("loadgen.connections must be non-negative")
	}
	if lc.Concurrency < 0 {
		return fmt.Errorf("loadgen.concurrency must be non-negative")
	}
	if len(lc.Query) > postal.MaxQueryBytes {
		return fmt.Errorf("loadgen.query must be at most %d bytes", postal.MaxQueryBytes)
	}

	return nil
}
