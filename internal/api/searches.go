package api

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/safkaty/safkaty/internal/acquire"
	"github.com/safkaty/safkaty/internal/runner"
	"github.com/safkaty/safkaty/internal/store"
)

type searchRequest struct {
	Keyword    string `json:"keyword"`
	MaxResults int    `json:"max_results"`
	Save       bool   `json:"save"`
}

// deliveryView is the last collected run as the API reports it.
type deliveryView struct {
	RunID      string            `json:"run_id"`
	Keyword    string            `json:"keyword"`
	FinishedAt time.Time         `json:"finished_at"`
	Error      string            `json:"error,omitempty"`
	Result     *acquire.Result   `json:"result,omitempty"`
	Saved      *store.SaveResult `json:"saved,omitempty"`
}

type searchStatus struct {
	State  string        `json:"state"`
	RunID  string        `json:"run_id,omitempty"`
	Latest *deliveryView `json:"latest"`
}

func (s *Server) startSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	keyword := strings.TrimSpace(req.Keyword)
	if keyword == "" {
		writeMessage(w, http.StatusBadRequest, "keyword is required")
		return
	}
	if req.MaxResults < 0 {
		writeMessage(w, http.StatusBadRequest, "max_results must be >= 0")
		return
	}
	maxResults := req.MaxResults
	if maxResults == 0 {
		maxResults = s.maxResults
	}

	// Deliver reads saveFor under mu, so a fast run cannot be collected
	// before its save flag is recorded.
	s.mu.Lock()
	id, err := s.runner.Start(s.ctx, keyword, maxResults)
	if err == nil && req.Save {
		s.saveFor[id] = true
	}
	s.mu.Unlock()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id":  id,
		"keyword": keyword,
		"state":   runner.Running.String(),
	})
}

func (s *Server) latestSearch(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	latest := s.latest
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, searchStatus{
		State:  s.runner.State().String(),
		RunID:  s.runner.RunID(),
		Latest: latest,
	})
}

func (s *Server) cancelSearch(w http.ResponseWriter, _ *http.Request) {
	if s.runner.State() != runner.Running {
		writeMessage(w, http.StatusConflict, "no search is running")
		return
	}
	s.runner.Cancel()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// Deliver records a collected run and persists its tenders when the
// request asked for it. It is the runner.PollLoop callback of the server.
func (s *Server) Deliver(d runner.Delivery) {
	view := &deliveryView{
		RunID:      d.RunID,
		Keyword:    d.Keyword,
		FinishedAt: d.Finished,
		Result:     d.Result,
	}
	if d.Err != nil {
		view.Error = d.Err.Error()
	}

	s.mu.Lock()
	save := s.saveFor[d.RunID]
	delete(s.saveFor, d.RunID)
	s.mu.Unlock()

	if save && d.Err == nil && d.Result != nil {
		res, err := s.store.SaveAll(s.ctx, d.Result.Tenders)
		if err != nil {
			zap.L().Error("api: save search results", zap.String("run_id", d.RunID), zap.Error(err))
			view.Error = err.Error()
		} else {
			view.Saved = &res
			if err := s.store.RecordSearch(s.ctx, d.Keyword, len(d.Result.Tenders)); err != nil {
				zap.L().Warn("api: record search", zap.String("run_id", d.RunID), zap.Error(err))
			}
		}
	}

	s.mu.Lock()
	s.latest = view
	s.mu.Unlock()
}
