package config

import (
	"os"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"backpack/internal/index"
	"backpack/internal/storage"
	"backpack/pkg/manager"
)

const (
	BackendRedis = "redis"
	BackendBolt  = "bolt"
)

type Config struct {
	DataDir           string      `toml:"data_dir"`
	Listen            string      `toml:"listen"`
	MetricsListen     string      `toml:"metrics_listen"`
	LogLevel          string      `toml:"log_level"`
	CapacityThreshold int64       `toml:"capacity_threshold"`
	DirectIO          bool        `toml:"direct_io"`
	SyncWrites        bool        `toml:"sync_writes"`
	LoadConcurrency   int         `toml:"load_concurrency"`
	Index             IndexConfig `toml:"index"`
}

// IndexConfig selects the external index. An empty BoltPath means index.db
// inside the data directory.
type IndexConfig struct {
	Backend       string `toml:"backend"`
	RedisAddress  string `toml:"redis_address"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	BoltPath      string `toml:"bolt_path"`
	ValueEncoding string `toml:"value_encoding"`
}

func Default() Config {
	return Config{
		DataDir:           "/var/lib/backpack",
		Listen:            ":8080",
		MetricsListen:     ":9090",
		LogLevel:          logrus.InfoLevel.String(),
		CapacityThreshold: manager.DefaultCapacity,
		DirectIO:          true,
		SyncWrites:        true,
		LoadConcurrency:   8,
		Index: IndexConfig{
			Backend:       BackendRedis,
			RedisAddress:  "127.0.0.1:6379",
			ValueEncoding: "decimal",
		},
	}
}

// Load reads the TOML file at path on top of the defaults. Keys missing from
// the file keep their default value.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "failed to read config file %q", path)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "failed to parse config file %q", path)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if c.Listen == "" {
		return errors.New("listen is required")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "invalid log_level")
	}
	if c.CapacityThreshold <= 0 || c.CapacityThreshold > storage.MaxFileSize {
		return errors.Errorf("capacity_threshold must be between 1 and %d", int64(storage.MaxFileSize))
	}
	if c.LoadConcurrency <= 0 {
		return errors.New("load_concurrency must be positive")
	}

	switch c.Index.Backend {
	case BackendRedis:
		if c.Index.RedisAddress == "" {
			return errors.New("index.redis_address is required for the redis backend")
		}
	case BackendBolt:
	default:
		return errors.Errorf("unknown index backend %q", c.Index.Backend)
	}
	if _, err := index.ValueCodecByName(c.Index.ValueEncoding); err != nil {
		return errors.Wrap(err, "invalid index.value_encoding")
	}
	return nil
}
