package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// jobsHandler starts (POST), lists or inspects (GET) and cancels (DELETE)
// video jobs.
func (s *Server) jobsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.startJob(w, r)
	case http.MethodGet:
		if id := r.URL.Query().Get("id"); id != "" {
			j, ok := s.lookupJob(w, r)
			if !ok {
				return
			}
			writeJSON(w, http.StatusOK, j.response())
			return
		}
		jobs := s.jobs.list()
		resp := JobsResponse{Jobs: make([]JobResponse, len(jobs)), Count: len(jobs)}
		for i, j := range jobs {
			resp.Jobs[i] = j.response()
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodDelete:
		id := r.URL.Query().Get("id")
		if !s.jobs.remove(id) {
			s.writeErrorResponse(w, fmt.Sprintf("job %q not found", id), http.StatusNotFound)
			return
		}
		slog.Info("Job removed", "job_id", id)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) startJob(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeErrorResponse(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	req.Path = strings.TrimSpace(req.Path)
	if req.Path == "" {
		s.writeErrorResponse(w, "path is required", http.StatusBadRequest)
		return
	}

	path, err := resolveMediaPath(s.mediaDir, req.Path)
	if err != nil {
		slog.Warn("Rejected job path", "path", req.Path, "error", err)
		s.writeErrorResponse(w, err.Error(), http.StatusForbidden)
		return
	}

	j := s.jobs.start(s.detector, s.options, req.Path, path)
	slog.Info("Job started", "job_id", j.ID, "path", j.Path)
	writeJSON(w, http.StatusAccepted, j.response())
}

// jobDetectionsHandler returns the detection history of a job.
func (s *Server) jobDetectionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	j, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	dets := j.orchestrator.Detections()
	writeJSON(w, http.StatusOK, DetectionsResponse{JobID: j.ID, Detections: dets, Count: len(dets)})
}

// jobFrameHandler returns the annotated frame of one detection as PNG. The
// detection is chosen by its position (index) or by its id (detection).
func (s *Server) jobFrameHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	j, ok := s.lookupJob(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	if detID := q.Get("detection"); detID != "" {
		det, found := j.orchestrator.Detection(detID)
		if !found {
			s.writeErrorResponse(w, fmt.Sprintf("detection %q not found", detID), http.StatusNotFound)
			return
		}
		writePNG(w, det.Frame)
		return
	}

	index, err := strconv.Atoi(q.Get("index"))
	if err != nil {
		s.writeErrorResponse(w, "index or detection parameter is required", http.StatusBadRequest)
		return
	}
	dets := j.orchestrator.Detections()
	if index < 0 || index >= len(dets) {
		s.writeErrorResponse(w, fmt.Sprintf("index %d out of range (%d detections)", index, len(dets)), http.StatusNotFound)
		return
	}
	writePNG(w, dets[index].Frame)
}

// lookupJob resolves the id query parameter, writing 400/404 on failure.
func (s *Server) lookupJob(w http.ResponseWriter, r *http.Request) (*job, bool) {
	id := r.URL.Query().Get("id")
	if id == "" {
		s.writeErrorResponse(w, "id parameter is required", http.StatusBadRequest)
		return nil, false
	}
	j, ok := s.jobs.get(id)
	if !ok {
		s.writeErrorResponse(w, fmt.Sprintf("job %q not found", id), http.StatusNotFound)
		return nil, false
	}
	return j, true
}
