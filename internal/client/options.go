package client

import (
	"time"

	"github.com/Pablu23/lenxfer/internal/common"
)

type Options struct {
	Address    string        `yaml:"address"`
	OutputPath string        `yaml:"outputPath"`
	IOTimeout  time.Duration `yaml:"ioTimeout"`
}

func NewDefaultOptions() *Options {
	return &Options{
		Address:    common.DefaultAddress,
		OutputPath: common.DefaultOutputPath,
	}
}
