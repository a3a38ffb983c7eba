package main

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"backpack/pkg/config"
)

type Args struct {
	ConfigPath    string
	DataDir       string
	Listen        string
	MetricsListen string
	LogLevel      string
	IndexBackend  string
	RedisAddress  string
	BoltPath      string
}

type Flags struct {
	Args *Args
	F    []cli.Flag
}

func buildFlags(args *Args) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "path to the TOML configuration file",
			EnvVars:     []string{"BACKPACK_CONFIG"},
			Destination: &args.ConfigPath,
		},
		&cli.StringFlag{
			Name:        "data-dir",
			Usage:       "directory holding the data files",
			Destination: &args.DataDir,
		},
		&cli.StringFlag{
			Name:        "listen",
			Usage:       "address the HTTP server listens on",
			Destination: &args.Listen,
		},
		&cli.StringFlag{
			Name:        "metrics-listen",
			Usage:       "address the metrics endpoint listens on, empty to disable",
			Destination: &args.MetricsListen,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Value:       logrus.InfoLevel.String(),
			Usage:       "set the logging level [trace, debug, info, warn, error, fatal, panic]",
			Destination: &args.LogLevel,
		},
		&cli.StringFlag{
			Name:        "index",
			Usage:       "index backend [redis, bolt]",
			Destination: &args.IndexBackend,
		},
		&cli.StringFlag{
			Name:        "redis-address",
			Usage:       "address of the redis server used as index",
			Destination: &args.RedisAddress,
		},
		&cli.StringFlag{
			Name:        "bolt-path",
			Usage:       "path to the bolt index file",
			Destination: &args.BoltPath,
		},
	}
}

func NewFlags() *Flags {
	var args Args
	return &Flags{
		Args: &args,
		F:    buildFlags(&args),
	}
}

// Config loads the configuration file, if any, and applies the flags that
// were set on the command line on top of it.
func (f *Flags) Config(c *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if f.Args.ConfigPath != "" {
		loaded, err := config.Load(f.Args.ConfigPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	overrides := []struct {
		flag  string
		value string
		dst   *string
	}{
		{"data-dir", f.Args.DataDir, &cfg.DataDir},
		{"listen", f.Args.Listen, &cfg.Listen},
		{"metrics-listen", f.Args.MetricsListen, &cfg.MetricsListen},
		{"log-level", f.Args.LogLevel, &cfg.LogLevel},
		{"index", f.Args.IndexBackend, &cfg.Index.Backend},
		{"redis-address", f.Args.RedisAddress, &cfg.Index.RedisAddress},
		{"bolt-path", f.Args.BoltPath, &cfg.Index.BoltPath},
	}
	for _, o := range overrides {
		if c.IsSet(o.flag) {
			*o.dst = o.value
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}
