package server

import (
	"time"

	"github.com/Pablu23/lenxfer/internal/common"
)

type Options struct {
	Address        string        `yaml:"address"`
	SourcePath     string        `yaml:"sourcePath"`
	MaxConnections int64         `yaml:"maxConnections"`
	IOTimeout      time.Duration `yaml:"ioTimeout"`
	MetricsAddress string        `yaml:"metricsAddress"`
}

func NewDefaultOptions() *Options {
	return &Options{
		Address:        common.DefaultAddress,
		SourcePath:     common.DefaultSourcePath,
		MaxConnections: 16,
		IOTimeout:      0,
		MetricsAddress: "",
	}
}
