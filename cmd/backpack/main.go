// Command backpack runs the blob store server and its maintenance tasks.
package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"backpack/internal/logging"
	"backpack/internal/wal"
	"backpack/pkg"
	"backpack/pkg/config"
	"backpack/pkg/manager"
	"backpack/pkg/metrics"
	"backpack/pkg/server"
)

var Version = "development"

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("backpack failed")
	}
}

func newApp(out io.Writer) *cli.App {
	flags := NewFlags()

	return &cli.App{
		Name:    "backpack",
		Usage:   "content addressed blob store packing blobs into large data files",
		Version: Version,
		Flags:   flags.F,
		Writer:  out,
		Action: func(c *cli.Context) error {
			return serve(c, flags)
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "serve the store over HTTP (default)",
				Action: func(c *cli.Context) error {
					return serve(c, flags)
				},
			},
			{
				Name:  "add-file",
				Usage: "provision one more data file",
				Action: func(c *cli.Context) error {
					return withStore(c, flags, func(ctx context.Context, s *pkg.Store) error {
						id, err := s.Manager().AddStorageFile(ctx)
						if err != nil {
							return err
						}
						_, err = fmt.Fprintln(c.App.Writer, id)
						return err
					})
				},
			},
			{
				Name:  "files",
				Usage: "list data files",
				Action: func(c *cli.Context) error {
					return withStore(c, flags, func(ctx context.Context, s *pkg.Store) error {
						files, err := s.Manager().Files(ctx)
						if err != nil {
							return err
						}
						w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
						fmt.Fprintln(w, "ID\tSIZE\tREAD-ONLY\tPATH")
						for _, f := range files {
							fmt.Fprintf(w, "%d\t%d\t%t\t%s\n", f.ID, f.Size, f.ReadOnly, f.Path)
						}
						return w.Flush()
					})
				},
			},
			{
				Name:  "rebuild",
				Usage: "republish every blob in the metadata logs to the index",
				Action: func(c *cli.Context) error {
					return withStore(c, flags, func(ctx context.Context, s *pkg.Store) error {
						stats, err := s.Manager().Rebuild(ctx)
						if err != nil {
							return err
						}
						_, err = fmt.Fprintf(c.App.Writer, "files: %d entries: %d skipped: %d relocated: %d\n",
							stats.Files, stats.Entries, stats.Skipped, stats.Relocated)
						return err
					})
				},
			},
			{
				Name:      "inspect",
				Usage:     "dump the metadata log of a data file",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					return inspect(c, flags)
				},
			},
		},
	}
}

func setUp(c *cli.Context, flags *Flags) (config.Config, error) {
	cfg, err := flags.Config(c)
	if err != nil {
		return cfg, err
	}
	if err := logging.SetUp(cfg.LogLevel, nil); err != nil {
		return cfg, errors.Wrap(err, "failed to prepare logger")
	}
	return cfg, nil
}

func withStore(c *cli.Context, flags *Flags, fn func(context.Context, *pkg.Store) error) error {
	cfg, err := setUp(c, flags)
	if err != nil {
		return err
	}

	ctx := c.Context
	s, err := pkg.Open(ctx, cfg, pkg.WithLogger(logging.L("backpack")))
	if err != nil {
		return errors.Wrap(err, "failed to open store")
	}
	if err := fn(ctx, s); err != nil {
		_ = s.Close()
		return err
	}
	return s.Close()
}

func serve(c *cli.Context, flags *Flags) error {
	cfg, err := setUp(c, flags)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := pkg.Open(ctx, cfg, pkg.WithLogger(logging.L("backpack")))
	if err != nil {
		return errors.Wrap(err, "failed to open store")
	}
	defer s.Close()

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", cfg.Listen)
	}

	var mln net.Listener
	if cfg.MetricsListen != "" {
		mln, err = net.Listen("tcp", cfg.MetricsListen)
		if err != nil {
			_ = ln.Close()
			return errors.Wrapf(err, "failed to listen on %s", cfg.MetricsListen)
		}
	}

	errs, ctx := errgroup.WithContext(ctx)
	errs.Go(func() error {
		return server.Serve(ctx, ln, s.Handler())
	})
	if mln != nil {
		errs.Go(func() error {
			return server.Serve(ctx, mln, metrics.Handler())
		})
	}

	logrus.WithFields(logrus.Fields{
		"listen":  cfg.Listen,
		"metrics": cfg.MetricsListen,
		"data":    cfg.DataDir,
	}).Info("backpack started")

	if err := errs.Wait(); err != nil {
		return err
	}
	logrus.Info("backpack stopped")
	return nil
}

func inspect(c *cli.Context, flags *Flags) error {
	cfg, err := setUp(c, flags)
	if err != nil {
		return err
	}
	if c.NArg() != 1 {
		return errors.New("inspect takes exactly one data file id")
	}
	id, err := strconv.ParseInt(c.Args().First(), 10, 64)
	if err != nil || id <= 0 {
		return errors.Errorf("invalid data file id %q", c.Args().First())
	}

	entries, residual, err := wal.ReadFile(manager.DataFilePath(cfg.DataDir, id) + wal.Suffix)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "OFFSET\tLENGTH\tNAME")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%d\t%s\n", e.Offset, e.Length, e.Name)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.App.Writer, "entries: %d residual bytes: %d\n", len(entries), len(residual))
	return err
}
