package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Pablu23/lenxfer/internal/client"
	"github.com/Pablu23/lenxfer/internal/server"
)

// Config mirrors the YAML file. Keys missing from the file keep their
// defaults.
type Config struct {
	Server server.Options `yaml:"server"`
	Client client.Options `yaml:"client"`
}

func NewDefaultConfig() *Config {
	return &Config{
		Server: *server.NewDefaultOptions(),
		Client: *client.NewDefaultOptions(),
	}
}

// Load reads path on top of the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %v: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %v: %w", path, err)
	}
	return cfg, nil
}

func (cfg *Config) ServerOptions() func(*server.Options) {
	return func(o *server.Options) {
		*o = cfg.Server
	}
}

func (cfg *Config) ClientOptions() func(*client.Options) {
	return func(o *client.Options) {
		*o = cfg.Client
	}
}
