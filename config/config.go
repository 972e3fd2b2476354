// Package config holds settings of a store instance and loads them from yaml.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"flstore/common"
	"flstore/logging"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	// DataFile is the path of the paged data file. It is created when missing.
	DataFile string `yaml:"data_file"`
	// LogFile is the path of the redo log. It is created when missing.
	LogFile string `yaml:"log_file"`
	// PoolSize is the number of frames in the buffer pool.
	PoolSize int `yaml:"pool_size"`
	// Replacer is the eviction policy of the buffer pool: clock, lru or random.
	Replacer string `yaml:"replacer"`
	// Fsync makes the data file fsync every page write.
	Fsync bool `yaml:"fsync"`

	Logging logging.Config `yaml:"logging"`
}

func Default() Config {
	return Config{
		DataFile: "flstore.db",
		LogFile:  "flstore.log",
		PoolSize: common.DefaultPoolSize,
		Replacer: "clock",
		Logging: logging.Config{
			Level:      "info",
			Format:     "json",
			OutputFile: "stderr",
		},
	}
}

// Load reads a yaml file on top of Default, so that the file only needs to name what it changes.
func Load(path string) (Config, error) {
	c := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "reading config %s", path)
	}

	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, errors.Wrapf(err, "parsing config %s", path)
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}

	return c, nil
}

func (c Config) Validate() error {
	if c.DataFile == "" {
		return errors.Wrap(ErrInvalidConfig, "data_file is empty")
	}
	if c.LogFile == "" {
		return errors.Wrap(ErrInvalidConfig, "log_file is empty")
	}
	if c.DataFile == c.LogFile {
		return errors.Wrap(ErrInvalidConfig, "data_file and log_file are the same file")
	}
	// pinning a base node and the two neighbours of a node takes three frames, the header page one more.
	if c.PoolSize < 4 {
		return errors.Wrapf(ErrInvalidConfig, "pool_size %d is less than 4", c.PoolSize)
	}
	switch c.Replacer {
	case "", "clock", "lru", "random":
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown replacer %q", c.Replacer)
	}

	return nil
}
