// Package v1 provides the REST API handlers for the candidate pipeline.
package v1

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hirewire/pipeline-server/internal/logger"
	"github.com/hirewire/pipeline-server/internal/model"
	"github.com/hirewire/pipeline-server/internal/pipeline"
	"github.com/hirewire/pipeline-server/internal/store"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// CandidateListResponse is the paginated candidate list payload.
type CandidateListResponse struct {
	Candidates []model.TrackedCandidate `json:"candidates"`
	NextCursor string                   `json:"next_cursor,omitempty"`
}

// BoardResponse is the stage-grouped pipeline view.
type BoardResponse struct {
	Stages  []model.Stage  `json:"stages"`
	Buckets []model.Bucket `json:"buckets"`
	Total   int            `json:"total"`
}

// AddCandidateRequest identifies an application to start tracking.
type AddCandidateRequest struct {
	ApplicantID   uuid.UUID  `json:"applicant_id"`
	ApplicationID uuid.UUID  `json:"application_id"`
	JobID         *uuid.UUID `json:"job_id,omitempty"`
}

// BulkAddRequest adds several applications at once.
type BulkAddRequest struct {
	Candidates []AddCandidateRequest `json:"candidates"`
}

// BulkAddResponse reports how many applications were newly tracked.
type BulkAddResponse struct {
	Added          int `json:"added"`
	AlreadyExisted int `json:"already_existed"`
}

// UpdateStageRequest moves a tracked candidate to another stage.
type UpdateStageRequest struct {
	Stage string `json:"stage"`
}

// UpdateRatingRequest sets a tracked candidate's star rating.
type UpdateRatingRequest struct {
	Rating int `json:"rating"`
}

// UpdateNotesRequest replaces a tracked candidate's notes.
type UpdateNotesRequest struct {
	Notes string `json:"notes"`
}

// Routes defines the routes for the pipeline API with dependency injection
type Routes struct {
	sync *pipeline.Synchronizer
}

// NewRoutes creates a new Routes instance with the provided synchronizer
func NewRoutes(sync *pipeline.Synchronizer) *Routes {
	return &Routes{
		sync: sync,
	}
}

// Router creates a new router for the pipeline API
func Router(sync *pipeline.Synchronizer) http.Handler {
	routes := NewRoutes(sync)

	r := chi.NewRouter()

	r.Get("/", routes.getBoard)
	r.Get("/stats", routes.getStats)
	r.Get("/stages", routes.getStages)

	r.Get("/candidates", routes.listCandidates)
	r.Post("/candidates", routes.addCandidates)
	r.Delete("/candidates/{id}", routes.removeCandidate)
	r.Patch("/candidates/{id}/stage", routes.updateStage)
	r.Patch("/candidates/{id}/rating", routes.updateRating)
	r.Patch("/candidates/{id}/notes", routes.updateNotes)

	r.Post("/applications/{id}/viewed", routes.markViewed)

	return r
}

// getBoard handles GET /api/v1/pipeline
func (rr *Routes) getBoard(w http.ResponseWriter, _ *http.Request) {
	board := rr.sync.Board()
	rr.writeJSONResponse(w, BoardResponse{
		Stages:  rr.sync.Stages(),
		Buckets: board.Buckets,
		Total:   board.Total,
	})
}

// getStats handles GET /api/v1/pipeline/stats
func (rr *Routes) getStats(w http.ResponseWriter, _ *http.Request) {
	rr.writeJSONResponse(w, rr.sync.Stats())
}

// getStages handles GET /api/v1/pipeline/stages
func (rr *Routes) getStages(w http.ResponseWriter, _ *http.Request) {
	rr.writeJSONResponse(w, rr.sync.Stages())
}

// listCandidates handles GET /api/v1/pipeline/candidates.
//
// An empty request serves the currently loaded pages. The `search` query
// parameter switches the active filter. Passing `cursor` requests one more
// page; the value must match the current next cursor, which makes repeated
// or stale requests idempotent.
func (rr *Routes) listCandidates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.URL.Query().Has("search") {
		if err := rr.sync.SetSearch(ctx, r.URL.Query().Get("search")); err != nil {
			rr.writeMutationError(w, err)
			return
		}
	}

	if cursor := r.URL.Query().Get("cursor"); cursor != "" {
		current := rr.sync.NextCursor()
		if current == nil {
			rr.writeErrorResponse(w, "no further pages", http.StatusBadRequest)
			return
		}
		if cursor != pipeline.EncodeCursor(current) {
			rr.writeErrorResponse(w, "stale cursor", http.StatusConflict)
			return
		}
		if err := rr.sync.LoadMore(ctx); err != nil {
			rr.writeMutationError(w, err)
			return
		}
	}

	resp := CandidateListResponse{Candidates: rr.sync.Candidates()}
	if next := rr.sync.NextCursor(); next != nil {
		resp.NextCursor = pipeline.EncodeCursor(next)
	}
	rr.writeJSONResponse(w, resp)
}

// addCandidates handles POST /api/v1/pipeline/candidates. A body with a
// `candidates` array is treated as a bulk add, anything else as a single
// add.
func (rr *Routes) addCandidates(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		rr.writeErrorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var bulk BulkAddRequest
	if err := json.Unmarshal(raw, &bulk); err == nil && len(bulk.Candidates) > 0 {
		ins := make([]pipeline.AddCandidateInput, 0, len(bulk.Candidates))
		for _, c := range bulk.Candidates {
			if c.ApplicantID == uuid.Nil || c.ApplicationID == uuid.Nil {
				rr.writeErrorResponse(w, "applicant_id and application_id are required", http.StatusBadRequest)
				return
			}
			ins = append(ins, pipeline.AddCandidateInput{
				ApplicantID:   c.ApplicantID,
				ApplicationID: c.ApplicationID,
				JobID:         c.JobID,
			})
		}
		result, err := rr.sync.AddBulk(r.Context(), ins)
		if err != nil {
			rr.writeMutationError(w, err)
			return
		}
		rr.writeJSONResponse(w, BulkAddResponse{
			Added:          result.Added,
			AlreadyExisted: result.AlreadyExisted,
		})
		return
	}

	var single AddCandidateRequest
	if err := json.Unmarshal(raw, &single); err != nil {
		rr.writeErrorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if single.ApplicantID == uuid.Nil || single.ApplicationID == uuid.Nil {
		rr.writeErrorResponse(w, "applicant_id and application_id are required", http.StatusBadRequest)
		return
	}

	added, err := rr.sync.Add(r.Context(), pipeline.AddCandidateInput{
		ApplicantID:   single.ApplicantID,
		ApplicationID: single.ApplicationID,
		JobID:         single.JobID,
	})
	if err != nil {
		rr.writeMutationError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(added); err != nil {
		logger.Errorf("Failed to encode JSON response: %v", err)
	}
}

// removeCandidate handles DELETE /api/v1/pipeline/candidates/{id}
func (rr *Routes) removeCandidate(w http.ResponseWriter, r *http.Request) {
	id, ok := rr.pathID(w, r)
	if !ok {
		return
	}
	if err := rr.sync.Remove(r.Context(), id); err != nil {
		rr.writeMutationError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// updateStage handles PATCH /api/v1/pipeline/candidates/{id}/stage
func (rr *Routes) updateStage(w http.ResponseWriter, r *http.Request) {
	id, ok := rr.pathID(w, r)
	if !ok {
		return
	}
	var req UpdateStageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Stage == "" {
		rr.writeErrorResponse(w, "stage is required", http.StatusBadRequest)
		return
	}
	if err := rr.sync.MoveStage(r.Context(), id, req.Stage); err != nil {
		rr.writeMutationError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// updateRating handles PATCH /api/v1/pipeline/candidates/{id}/rating
func (rr *Routes) updateRating(w http.ResponseWriter, r *http.Request) {
	id, ok := rr.pathID(w, r)
	if !ok {
		return
	}
	var req UpdateRatingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rr.writeErrorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Rating < 0 || req.Rating > 5 {
		rr.writeErrorResponse(w, "rating must be between 0 and 5", http.StatusBadRequest)
		return
	}
	if err := rr.sync.UpdateRating(r.Context(), id, req.Rating); err != nil {
		rr.writeMutationError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// updateNotes handles PATCH /api/v1/pipeline/candidates/{id}/notes
func (rr *Routes) updateNotes(w http.ResponseWriter, r *http.Request) {
	id, ok := rr.pathID(w, r)
	if !ok {
		return
	}
	var req UpdateNotesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rr.writeErrorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := rr.sync.UpdateNotes(r.Context(), id, req.Notes); err != nil {
		rr.writeMutationError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// markViewed handles POST /api/v1/pipeline/applications/{id}/viewed
func (rr *Routes) markViewed(w http.ResponseWriter, r *http.Request) {
	id, ok := rr.pathID(w, r)
	if !ok {
		return
	}
	if err := rr.sync.MarkViewed(r.Context(), id); err != nil {
		rr.writeMutationError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HealthRouter creates a router for health check endpoints
func HealthRouter(sync *pipeline.Synchronizer) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", healthHandler)
	r.Get("/readiness", readinessHandler(sync))

	return r
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

// readinessHandler handles readiness check requests
func readinessHandler(sync *pipeline.Synchronizer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := sync.CheckReadiness(r.Context()); err != nil {
			errorResp := ErrorResponse{
				Error: "synchronizer not ready: " + err.Error(),
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			if encodeErr := json.NewEncoder(w).Encode(errorResp); encodeErr != nil {
				logger.Errorf("Failed to encode readiness error response: %v", encodeErr)
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	}
}

// pathID parses the {id} path parameter, writing a 400 on failure.
func (rr *Routes) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		rr.writeErrorResponse(w, "invalid id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// writeMutationError maps synchronizer errors to HTTP status codes
func (rr *Routes) writeMutationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrAlreadyInList):
		rr.writeErrorResponse(w, err.Error(), http.StatusConflict)
	case errors.Is(err, pipeline.ErrOffline):
		rr.writeErrorResponse(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, pipeline.ErrNotStarted):
		rr.writeErrorResponse(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, pipeline.ErrNoStages):
		rr.writeErrorResponse(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, store.ErrNotFound):
		rr.writeErrorResponse(w, "candidate not found", http.StatusNotFound)
	default:
		logger.Errorf("Pipeline operation failed: %v", err)
		rr.writeErrorResponse(w, "internal server error", http.StatusInternalServerError)
	}
}

// writeJSONResponse writes a JSON response with the given data
func (*Routes) writeJSONResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("Failed to encode JSON response: %v", err)
	}
}

// writeErrorResponse writes a standardized error response
func (*Routes) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	errorResp := ErrorResponse{
		Error: message,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(errorResp); err != nil {
		logger.Errorf("Failed to encode error response: %v", err)
	}
}
