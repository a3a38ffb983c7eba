package pkg

import (
	"context"
	"net/http"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"backpack/internal/index"
	"backpack/internal/storage"
	"backpack/pkg/config"
	"backpack/pkg/manager"
	"backpack/pkg/server"
)

// DefaultIndexFile is the bbolt index location inside the data directory
// when no explicit path is configured.
const DefaultIndexFile = "index.db"

var _ ReadWriterCloser = (*Store)(nil)

// Store is a ready to use blob store: the configured index, the file
// manager on top of it and the HTTP handler in front of both.
type Store struct {
	cfg     config.Config
	index   index.Index
	ownsIdx bool
	manager *manager.Manager
	log     *logrus.Entry
}

// Open validates cfg, connects to the index and loads the data files.
func Open(ctx context.Context, cfg config.Config, options ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	s := &Store{
		cfg: cfg,
		log: logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, option := range options {
		option.apply(s)
	}

	if s.index == nil {
		idx, err := openIndex(cfg)
		if err != nil {
			return nil, err
		}
		s.index = idx
		s.ownsIdx = true
	}

	values, err := index.ValueCodecByName(cfg.Index.ValueEncoding)
	if err != nil {
		_ = s.closeIndex()
		return nil, err
	}

	m, err := manager.Open(ctx, cfg.DataDir, s.index,
		manager.WithCapacity(cfg.CapacityThreshold),
		manager.WithLoadConcurrency(cfg.LoadConcurrency),
		manager.WithValueCodec(values),
		manager.WithLogger(s.log.WithField("component", "manager")),
		manager.WithFileOptions(
			storage.WithDirectIO(cfg.DirectIO),
			storage.WithSync(cfg.SyncWrites),
		),
	)
	if err != nil {
		_ = s.closeIndex()
		return nil, err
	}
	s.manager = m
	return s, nil
}

func openIndex(cfg config.Config) (index.Index, error) {
	switch cfg.Index.Backend {
	case config.BackendRedis:
		return index.NewRedis(cfg.Index.RedisAddress,
			index.WithPassword(cfg.Index.RedisPassword),
			index.WithDatabase(cfg.Index.RedisDB),
		), nil
	case config.BackendBolt:
		path := cfg.Index.BoltPath
		if path == "" {
			path = filepath.Join(cfg.DataDir, DefaultIndexFile)
		}
		return index.OpenBolt(path)
	default:
		return nil, errors.Errorf("unknown index backend %q", cfg.Index.Backend)
	}
}

func (s *Store) Write(ctx context.Context, name string, length int64) (*storage.Writer, error) {
	return s.manager.Write(ctx, name, length)
}

func (s *Store) Read(ctx context.Context, name string) (*storage.Reader, error) {
	return s.manager.Read(ctx, name)
}

// Manager gives access to data file administration.
func (s *Store) Manager() *manager.Manager {
	return s.manager
}

// Handler returns the HTTP front end of the store.
func (s *Store) Handler() http.Handler {
	return server.New(s, server.WithLogger(s.log.WithField("component", "server")))
}
