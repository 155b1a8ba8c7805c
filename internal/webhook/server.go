// Package webhook is relayd's signed ingress. Upstream packet watchers POST
// HMAC-SHA256 signed bodies to configured paths and each accepted body is
// enqueued as one operation.
//
// A request whose signature is missing or wrong gets a bare 403. Bodies over
// the endpoint's size limit get 413 before the signature is checked.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sudosu4pp/multi-chain-zk-back/internal/config"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/dispatch"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/op"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/queue"
)

// Enqueuer accepts new operations.
type Enqueuer interface {
	Enqueue(ctx context.Context, o op.Op) (*queue.Entry, error)
}

// AcceptedResponse is the body of a 202.
type AcceptedResponse struct {
	ID       op.ID  `json:"op_id"`
	Revision uint64 `json:"revision"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type Server struct {
	config    Config
	queue     Enqueuer
	logger    *slog.Logger
	server    *http.Server
	endpoints map[string]Endpoint
}

func New(cfg Config, queue Enqueuer, logger *slog.Logger) *Server {
	endpoints := make(map[string]Endpoint, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		if ep.MaxBodySize <= 0 {
			ep.MaxBodySize = DefaultMaxBodySize
		}
		if ep.SignatureHeader == "" {
			ep.SignatureHeader = DefaultSignatureHeader
		}
		if ep.Body == "" {
			ep.Body = config.WebhookBodyOp
		}
		endpoints[ep.Path] = ep
	}
	return &Server{config: cfg, queue: queue, logger: logger, endpoints: endpoints}
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info("webhook server starting", "listen", s.config.Listen, "endpoints", len(s.endpoints))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	for path, ep := range s.endpoints {
		r.Post(path, s.handle(ep))
	}
	return r
}

// logRequests logs request metadata only; bodies may carry packet data.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("webhook request",
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

func (s *Server) handle(ep Endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, ep.MaxBodySize+1))
		if err != nil {
			respond(w, http.StatusBadRequest, errorResponse{Error: "failed to read request body"})
			return
		}
		if int64(len(body)) > ep.MaxBodySize {
			respond(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "payload too large"})
			return
		}

		if err := verify(body, r.Header.Get(ep.SignatureHeader), ep.Secret); err != nil {
			s.logger.Warn("webhook signature rejected", "path", ep.Path, "header", ep.SignatureHeader)
			respond(w, http.StatusForbidden, errorResponse{Error: "forbidden"})
			return
		}

		o, err := decodeBody(ep.Body, body)
		if err != nil {
			respond(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}

		ent, err := s.queue.Enqueue(r.Context(), o)
		if err != nil {
			if errors.Is(err, dispatch.ErrInvalidOp) {
				respond(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
				return
			}
			s.logger.Error("webhook enqueue failed", "path", ep.Path, "error", err)
			respond(w, http.StatusInternalServerError, errorResponse{Error: "failed to enqueue operation"})
			return
		}

		s.logger.Info("webhook operation enqueued", "path", ep.Path, "op_id", string(ent.ID))
		respond(w, http.StatusAccepted, AcceptedResponse{ID: ent.ID, Revision: ent.Revision})
	}
}

func decodeBody(mode string, body []byte) (op.Op, error) {
	if mode == config.WebhookBodyLeaf {
		if !json.Valid(body) {
			return op.Op{}, errors.New("body is not valid JSON")
		}
		return op.Leaf(bytes.Clone(body)), nil
	}

	var o op.Op
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&o); err != nil {
		return op.Op{}, fmt.Errorf("invalid operation JSON: %v", err)
	}
	return o, nil
}

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
