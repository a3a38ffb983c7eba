// Package server exposes a blob store over HTTP: PUT /<name> stores the
// request body, GET /<name> returns it.
package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"backpack/pkg/manager"
	"backpack/pkg/metrics"
)

const RequestIDHeader = "X-Request-Id"

type Option func(*Server)

func WithLogger(log *logrus.Entry) Option {
	return func(s *Server) {
		s.log = log
	}
}

type Server struct {
	store manager.ReadWriter
	log   *logrus.Entry
}

var _ http.Handler = (*Server)(nil)

func New(store manager.ReadWriter, options ...Option) *Server {
	s := &Server{
		store: store,
		log:   logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// statusWriter records the status code sent to the client.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *Server) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := uuid.New().String()
	rw.Header().Set(RequestIDHeader, id)

	w := &statusWriter{ResponseWriter: rw, status: http.StatusOK}
	name := strings.TrimPrefix(r.URL.Path, "/")
	log := s.log.WithFields(logrus.Fields{
		"request_id": id,
		"method":     r.Method,
		"name":       name,
	})

	var n int64
	switch r.Method {
	case http.MethodPut:
		n = s.handlePut(w, r, name, log)
	case http.MethodGet:
		n = s.handleGet(w, r, name, log)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}

	metrics.RequestCompleted(r.Method, w.status, n, start)
	log.WithFields(logrus.Fields{
		"status":   w.status,
		"bytes":    n,
		"duration": time.Since(start).String(),
	}).Debug("request served")
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request, name string, log *logrus.Entry) int64 {
	if r.ContentLength <= 0 {
		w.WriteHeader(http.StatusLengthRequired)
		return 0
	}

	writer, err := s.store.Write(r.Context(), name, r.ContentLength)
	if err != nil {
		log.WithError(err).Error("failed to place write")
		w.WriteHeader(http.StatusInternalServerError)
		return 0
	}

	n, err := io.Copy(writer, r.Body)
	if err != nil {
		res := writer.Abort(err)
		metrics.WriteFinished(res.Outcome.String())
		log.WithError(err).Error("failed to receive body")
		w.WriteHeader(http.StatusInternalServerError)
		return n
	}

	// Commit even if the client hangs up after sending the whole body.
	res, err := writer.Commit(context.WithoutCancel(r.Context()))
	metrics.WriteFinished(res.Outcome.String())
	if err != nil {
		log.WithError(err).WithField("outcome", res.Outcome.String()).Error("failed to commit write")
		w.WriteHeader(http.StatusInternalServerError)
		return n
	}

	w.WriteHeader(http.StatusCreated)
	return n
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, name string, log *logrus.Entry) int64 {
	reader, err := s.store.Read(r.Context(), name)
	if errors.Is(err, manager.ErrNotFound) {
		w.WriteHeader(http.StatusNotFound)
		return 0
	}
	if err != nil {
		log.WithError(err).Error("failed to resolve name")
		w.WriteHeader(http.StatusInternalServerError)
		return 0
	}

	data, err := reader.Bytes(r.Context())
	if err != nil {
		log.WithError(err).Error("failed to read blob")
		w.WriteHeader(http.StatusInternalServerError)
		return 0
	}

	w.Header().Set("Content-Length", strconv.FormatInt(reader.Size(), 10))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	n, err := w.Write(data)
	if err != nil {
		log.WithError(err).Debug("client went away")
	}
	return int64(n)
}

// Serve serves the store on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	return Serve(ctx, ln, s)
}

// Serve runs an HTTP server for handler on ln and shuts it down gracefully
// once ctx is done.
func Serve(ctx context.Context, ln net.Listener, handler http.Handler) error {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs, ctx := errgroup.WithContext(ctx)
	errs.Go(func() error {
		if err := server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrapf(err, "failed to serve on %s", ln.Addr())
		}
		return nil
	})
	errs.Go(func() error {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdown); err != nil {
			return errors.Wrap(err, "failed to shut down server")
		}
		return nil
	})
	return errs.Wait()
}
