package dataproxy

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cuemby/strata/internal/apierr"
	"github.com/cuemby/strata/internal/log"
	"github.com/cuemby/strata/internal/metrics"
)

// Server exposes a SecretResolver over HTTP for an external S3 frontend to
// call during signature verification, the same shape cuemby-warren's
// pkg/api/health.go uses for its own sidecar HTTP surface (a bare
// http.ServeMux, no router dependency, since the method count here is
// small enough not to need one).
type Server struct {
	resolver *SecretResolver
	mux      *http.ServeMux
}

// NewServer builds the HTTP server around resolver.
func NewServer(resolver *SecretResolver) *Server {
	mux := http.NewServeMux()
	s := &Server{resolver: resolver, mux: mux}
	mux.HandleFunc("/v1/secret", s.secretHandler)
	mux.Handle("/metrics", metrics.Handler())
	return s
}

// Start listens on addr and serves until the process exits or an error
// occurs, mirroring health.go's Start(addr).
func (s *Server) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	log.WithComponent("dataproxy").Info().Str("addr", addr).Msg("listening")
	return server.ListenAndServe()
}

type secretResponse struct {
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key,omitempty"`
	Error     string `json:"error,omitempty"`
}

// secretHandler implements GET /v1/secret?access_key=<key>, the lookup an
// S3 frontend's auth middleware calls once per request before verifying
// that request's signature against the returned secret.
func (s *Server) secretHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	accessKey := r.URL.Query().Get("access_key")
	if accessKey == "" {
		writeSecretError(w, apierr.InvalidArgument("dataproxy: access_key query parameter is required"))
		return
	}

	secret, err := s.resolver.GetSecretKey(accessKey)
	if err != nil {
		writeSecretError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(secretResponse{AccessKey: accessKey, SecretKey: secret})
}

func writeSecretError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if apierr.Is(err, apierr.KindInvalidArgument) {
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(secretResponse{Error: err.Error()})
}
