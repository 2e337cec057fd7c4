package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DurationsFile  string  `yaml:"durations_file"`
	Resamples      int     `yaml:"resamples"`
	Confidence     float64 `yaml:"confidence"`
	Workers        int     `yaml:"workers"`
	Seed           uint64  `yaml:"seed"`
	MaxResamples   int     `yaml:"max_resamples"`
	MaxSampleSize  int     `yaml:"max_sample_size"`
	ServerAddr     string  `yaml:"server_addr"`
	APIKey         string  `yaml:"api_key"`
	PrometheusAddr string  `yaml:"prometheus_addr"`
	CacheSize      int     `yaml:"cache_size"`
	LogLevel       string  `yaml:"log_level"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		DurationsFile: "durations.csv",
		Resamples:     1000,
		Confidence:    0.95,
		Workers:       0,
		Seed:          1337,
		MaxResamples:  100000,
		MaxSampleSize: 1000000,
		ServerAddr:    ":8080",
		CacheSize:     1024,
		LogLevel:      "info",
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
