// Package server is the small HTTP surface: liveness probes for the hosting
// platform and a token-guarded read-only ledger listing.
package server

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rs/cors"

	"github.com/slipkeeper/slipkeeper/internal/ledger"
)

// LedgerReader lists balances for the API.
type LedgerReader interface {
	Entries(ctx context.Context) ([]ledger.Entry, error)
}

type Server struct {
	ledger   LedgerReader
	tokenSum [32]byte
	hasToken bool
	log      *slog.Logger
}

// New builds the server. An empty apiToken disables the ledger endpoint but
// keeps the liveness probes.
func New(ledgerReader LedgerReader, apiToken string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{ledger: ledgerReader, log: log}
	if apiToken != "" {
		s.tokenSum = sha256.Sum256([]byte(apiToken))
		s.hasToken = true
	}
	return s
}

// Handler returns the full HTTP handler, CORS-fronted.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.home)
	mux.HandleFunc("GET /health", s.health)
	if s.hasToken {
		mux.Handle("GET /api/v1/ledger", s.requireToken(http.HandlerFunc(s.listLedger)))
	}

	return cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet},
		AllowedHeaders: []string{"Accept", "Authorization"},
	}).Handler(mux)
}

func (s *Server) home(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("Bot is running!"))
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func (s *Server) listLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := s.ledger.Entries(r.Context())
	if err != nil {
		s.log.Error("list ledger failed", "error", err)
		http.Error(w, `{"error":"ledger unavailable"}`, http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"entries": entries})
}

// requireToken authenticates the Bearer token by comparing SHA-256 digests in
// constant time.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := extractBearer(r)
		if raw == "" {
			http.Error(w, `{"error":"missing or malformed Authorization header"}`, http.StatusUnauthorized)
			return
		}
		sum := sha256.Sum256([]byte(raw))
		if subtle.ConstantTimeCompare(sum[:], s.tokenSum[:]) != 1 {
			http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
