package config

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Sampling  SamplingConfig  `yaml:"sampling"`
	Upload    UploadConfig    `yaml:"upload"`
	Histogram HistogramConfig `yaml:"histogram"`
}

type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AuthToken      string   `yaml:"auth_token"`
}

type SamplingConfig struct {
	NormalSamples  int     `yaml:"normal_samples"`
	PoissonSamples int     `yaml:"poisson_samples"`
	PoissonRate    float64 `yaml:"poisson_rate"`
	Seed           uint64  `yaml:"seed"` // 0 = nondeterministic
}

type UploadConfig struct {
	MaxBytes          int64    `yaml:"max_bytes"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

type HistogramConfig struct {
	Bins int `yaml:"bins"` // 0 = auto (Sturges)
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
		Sampling: SamplingConfig{
			NormalSamples:  1000,
			PoissonSamples: 1000,
			PoissonRate:    2,
		},
		Upload: UploadConfig{
			MaxBytes:          4 << 20,
			AllowedExtensions: []string{".csv", ".txt"},
		},
	}
}

// Load reads a YAML config from path. Defaults are applied first and the
// file is unmarshalled over them, so partial configs are fine.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except a missing file yields the defaults
// instead of an error.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return defaultConfig(), nil
	}
	return cfg, err
}

// ExtensionAllowed reports whether name's extension is in the upload
// allowlist. Comparison is case-insensitive.
func (u UploadConfig) ExtensionAllowed(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range u.AllowedExtensions {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}
