package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/MeKo-Tech/framescan/internal/models"
	"github.com/MeKo-Tech/framescan/internal/version"
)

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
		Jobs:    s.jobs.count(),
	})
}

// modelsHandler lists the supported detection models and whether their
// files are present.
func (s *Server) modelsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	modelInfos := models.ListAvailableModels()
	modelList := make([]ModelInfo, len(modelInfos))
	for i, info := range modelInfos {
		path := models.ResolveModelPath(s.modelsDir, info.Filename)
		_, err := os.Stat(path)
		modelList[i] = ModelInfo{
			Name:        info.Name,
			Path:        path,
			Variant:     info.Variant,
			Description: info.Description,
			Available:   err == nil,
		}
	}

	writeJSON(w, http.StatusOK, ModelsResponse{Models: modelList, Count: len(modelList)})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeErrorResponse writes a JSON error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, ErrorResponse{Success: false, Error: message})
}
