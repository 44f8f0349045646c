package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/oselotti/capreplay/artifact"
	"github.com/oselotti/capreplay/observability"
	"github.com/oselotti/capreplay/replay"
	"github.com/oselotti/capreplay/rule"
	"github.com/oselotti/capreplay/trail"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("server: encode response failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- events ---

type ingestResponse struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// handleIngestEvents accepts a batch of observed events. Rejections
// (duplicate fingerprints, stale source instances) are not errors:
// they count in the response and surface only in logs.
func (s *Server) handleIngestEvents(w http.ResponseWriter, r *http.Request) {
	var events []trail.Event
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var resp ingestResponse
	for _, ev := range events {
		if ev.SourceID == "" || ev.SessionID == "" {
			s.writeError(w, http.StatusBadRequest, "source_id and session_id required on every event")
			return
		}
		if s.deps.Capture.Ingest(ev) {
			resp.Accepted++
		} else {
			resp.Rejected++
		}
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordSimple(observability.MetricEventsAccepted, float64(resp.Accepted), "count")
		s.deps.Metrics.RecordSimple(observability.MetricEventsRejected, float64(resp.Rejected), "count")
	}
	s.writeJSON(w, http.StatusAccepted, resp)
}

// --- chunks / completion ---

type chunkRequest struct {
	ArtifactID string `json:"artifact_id"`
	Index      int    `json:"index"`
	Total      int    `json:"total"`
	Payload    string `json:"payload"` // base64
	MIME       string `json:"mime,omitempty"`
}

func (s *Server) handlePutChunk(w http.ResponseWriter, r *http.Request) {
	var req chunkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ArtifactID == "" {
		s.writeError(w, http.StatusBadRequest, "artifact_id required")
		return
	}
	payload, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "payload must be base64")
		return
	}

	err = s.deps.Reassembler.PutChunk(req.ArtifactID, req.Index, req.Total, payload, req.MIME)
	switch {
	case errors.Is(err, artifact.ErrInvalidChunkIndex):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, artifact.ErrChunkState):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.deps.Completion.AckChunk(req.ArtifactID, req.Index, req.Total)
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"ok":       true,
		"status":   "stored",
		"complete": s.deps.Reassembler.IsComplete(req.ArtifactID),
	})
}

type completeRequest struct {
	DurationMS    int64  `json:"duration_ms"`
	MIME          string `json:"mime,omitempty"`
	CompletedAtMS int64  `json:"completed_at_ms"`
}

func (s *Server) handleCompleteArtifact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.deps.Completion.SetMetadata(id, artifact.Metadata{
		DurationMS:    req.DurationMS,
		MIME:          req.MIME,
		CompletedAtMS: req.CompletedAtMS,
	})
	s.writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "status": "pending"})
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	if s.deps.Artifacts == nil {
		s.writeError(w, http.StatusNotFound, "artifact storage not configured")
		return
	}
	id := chi.URLParam(r, "id")
	art, err := s.deps.Artifacts.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if art == nil {
		s.writeError(w, http.StatusNotFound, "unknown artifact")
		return
	}
	s.writeJSON(w, http.StatusOK, art)
}

// --- sessions ---

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.deps.Trails.ListSessions(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sessions == nil {
		sessions = []trail.Session{}
	}
	s.writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.deps.Trails.Session(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sess == nil {
		s.writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

// --- rules ---

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.deps.Rules.List(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rules == nil {
		rules = []*rule.Rule{}
	}
	s.writeJSON(w, http.StatusOK, rules)
}

type deriveRuleRequest struct {
	SessionID string `json:"session_id"`
	Name      string `json:"name,omitempty"`
}

func (s *Server) handleDeriveRule(w http.ResponseWriter, r *http.Request) {
	var req deriveRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		s.writeError(w, http.StatusBadRequest, "session_id required")
		return
	}

	sess, err := s.deps.Trails.Session(r.Context(), req.SessionID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sess == nil {
		s.writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	name := req.Name
	if name == "" {
		name = "rule from " + req.SessionID
	}
	derived := rule.Compile(name, sess)
	if err := s.deps.Rules.Save(r.Context(), &derived); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("server: rule derived", "rule_id", derived.ID, "session_id", req.SessionID, "steps", len(derived.Steps))
	if s.deps.Events != nil {
		s.deps.Events.LogEvent(r.Context(), observability.PipelineEvent{
			Stage: observability.StageRule, EntityType: "rule", EntityID: derived.ID,
			SessionID: req.SessionID, Action: "derived", Success: true,
		})
	}
	s.writeJSON(w, http.StatusCreated, derived)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	derived, err := s.deps.Rules.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if derived == nil {
		s.writeError(w, http.StatusNotFound, "unknown rule")
		return
	}
	s.writeJSON(w, http.StatusOK, derived)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Rules.Delete(r.Context(), id); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

// --- replay ---

type replayRequest struct {
	RuleID  string `json:"rule_id"`
	PageURL string `json:"page_url"`
	// HTML is a saved DOM snapshot; the run is an offline dry run
	// against it.
	HTML string `json:"html"`
}

type replayResponse struct {
	replay.Result
	Clicks []string `json:"clicks,omitempty"`
}

// handleReplay executes a saved rule against a provided DOM snapshot.
// Live replay against a browser runs through the replay command, not
// the server.
func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	var req replayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RuleID == "" || req.HTML == "" {
		s.writeError(w, http.StatusBadRequest, "rule_id and html required")
		return
	}

	derived, err := s.deps.Rules.Get(r.Context(), req.RuleID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if derived == nil {
		s.writeError(w, http.StatusNotFound, "unknown rule")
		return
	}

	doc, err := replay.ParseHTML(req.PageURL, strings.NewReader(req.HTML))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	started := time.Now()
	res := s.deps.Engine.Run(r.Context(), doc, derived)
	elapsed := time.Since(started)

	if s.deps.Runs != nil {
		s.deps.Runs.Record(observability.RunRecord{
			RuleID:     derived.ID,
			Status:     string(res.Status),
			Note:       res.Note,
			Error:      res.Error,
			FailedStep: res.FailedStep,
			StepsRun:   res.StepsRun,
			OpenedTabs: res.OpenedTabs,
			DurationMS: elapsed.Milliseconds(),
			StartedAt:  started,
		})
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.Record(&observability.Metric{
			Name: observability.MetricReplayDurationMs, Timestamp: started,
			Value:  float64(elapsed.Milliseconds()),
			Labels: map[string]string{"rule_id": derived.ID, "status": string(res.Status)},
			Unit:   "milliseconds",
		})
	}

	status := http.StatusOK
	if !res.OK {
		status = http.StatusUnprocessableEntity
	}
	s.writeJSON(w, status, replayResponse{
		Result: res,
		Clicks: doc.Clicks(),
	})
}

// handleRuleRuns returns the replay run history for a rule.
func (s *Server) handleRuleRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		s.writeError(w, http.StatusNotFound, "run history not configured")
		return
	}
	id := chi.URLParam(r, "id")
	runs, err := s.deps.Runs.History(r.Context(), id, 100)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []observability.RunRecord{}
	}
	s.writeJSON(w, http.StatusOK, runs)
}
