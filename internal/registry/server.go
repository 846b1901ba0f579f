package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
)

// Server serves the registry file over HTTP so shells can discover running
// providers.
type Server struct {
	file   string
	logger *slog.Logger
}

// NewServer creates a registry server over the given saps file.
func NewServer(file string, logger *slog.Logger) *Server {
	return &Server{file: file, logger: logger}
}

// Handler returns the registry's HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /saps", s.handleSaps)
	mux.HandleFunc("GET /wtf", s.handleWTF)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	return mux
}

// handleSaps serves the raw registry file as text. Shells parse the
// line-oriented format themselves.
func (s *Server) handleSaps(w http.ResponseWriter, r *http.Request) {
	content, err := os.ReadFile(s.file)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Warn("registry file not found", "path", s.file)
			writeRegistryJSON(w, http.StatusNotFound, map[string]any{"error": "saps.txt file not found"})
			return
		}
		s.logger.Error("failed to read registry file", "path", s.file, "error", err)
		writeRegistryJSON(w, http.StatusInternalServerError, map[string]any{
			"error": fmt.Sprintf("Error reading file: %v", err),
		})
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

func (s *Server) handleWTF(w http.ResponseWriter, r *http.Request) {
	writeRegistryJSON(w, http.StatusOK, map[string]any{"type": "Registry"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeRegistryJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": "sap-registry"})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeRegistryJSON(w, http.StatusOK, map[string]any{
		"service":     "SAP Registry",
		"description": "Serves SAP server endpoints from saps.txt",
		"endpoints": map[string]string{
			"/wtf":    "Server type identification",
			"/saps":   "SAP server endpoints (ip:port format)",
			"/health": "Health check",
		},
		"status": "running",
	})
}

func writeRegistryJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
