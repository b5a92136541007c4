// Package server implements the ingestion API: batch event intake,
// session listing, and token-based authentication. Persisted events
// feed the clustering assigner, which maintains session and tab rows.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tabrecall/tabrecall/internal/cluster"
	"github.com/tabrecall/tabrecall/internal/config"
	"github.com/tabrecall/tabrecall/internal/embedding"
	"github.com/tabrecall/tabrecall/internal/event"
	"github.com/tabrecall/tabrecall/internal/logging"
	"github.com/tabrecall/tabrecall/internal/storage"
)

// Server owns the HTTP API and the clustering pipeline behind it.
type Server struct {
	cfg       config.Config
	store     storage.Store
	auth      *authService
	assigner  *cluster.Assigner
	validator *event.Validator
}

// New wires a Server from an opened store. The clustering similarity
// function follows the config: token overlap by default, embeddings
// when enabled.
func New(cfg config.Config, store storage.Store) (*Server, error) {
	var sim cluster.Similarity
	if cfg.Clustering.Similarity == "embedding" && cfg.Embeddings.Enabled {
		provider, err := embedding.New(cfg.Embeddings)
		if err != nil {
			return nil, fmt.Errorf("embedding provider: %w", err)
		}
		sim = cluster.EmbeddingSimilarity(provider)
	}

	scorer := cluster.NewScorer(cluster.WeightsFromConfig(cfg.Clustering), sim)
	return &Server{
		cfg:       cfg,
		store:     store,
		auth:      newAuthService(store, cfg.Server.AuthSecret),
		assigner:  cluster.NewAssigner(store, scorer, cfg.Clustering.Mode),
		validator: event.NewValidator(cfg.Capture.IgnoreSchemes),
	}, nil
}

// ReloadWeights swaps the clustering weight table. Wired to the config
// file watcher so weight tuning needs no restart.
func (s *Server) ReloadWeights(cc config.ClusteringConfig) {
	s.assigner.SetWeights(cluster.WeightsFromConfig(cc))
	logging.Infof("clustering weights reloaded (promotion threshold %d)", cc.PromotionThreshold)
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/auth/register", s.handleRegister)
	mux.HandleFunc("/auth/login", s.handleLogin)
	mux.HandleFunc("/auth/refresh", s.handleRefresh)
	mux.HandleFunc("/events/batch", s.requireAuth(s.handleEventBatch))
	mux.HandleFunc("/sessions", s.requireAuth(s.handleListSessions))
	return mux
}

// Run serves the API until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Infof("server listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	}
}
