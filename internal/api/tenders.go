package api

import (
	"net/http"
	"strings"

	"github.com/safkaty/safkaty/internal/model"
	"github.com/safkaty/safkaty/internal/store"
)

func (s *Server) listTenders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	priority, ok := queryInt(r, "priority")
	if !ok {
		writeMessage(w, http.StatusBadRequest, "priority must be an integer")
		return
	}
	limit, ok := queryInt(r, "limit")
	if !ok || limit < 0 {
		writeMessage(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	offset, ok := queryInt(r, "offset")
	if !ok || offset < 0 {
		writeMessage(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	tenders, err := s.store.List(r.Context(), store.ListFilter{
		Text:     q.Get("q"),
		Status:   model.Status(q.Get("status")),
		Priority: priority,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tenders)
}

func (s *Server) searchTenders(w http.ResponseWriter, r *http.Request) {
	keyword := strings.TrimSpace(r.URL.Query().Get("q"))
	if keyword == "" {
		writeMessage(w, http.StatusBadRequest, "q is required")
		return
	}
	tenders, err := s.store.Search(r.Context(), keyword)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tenders)
}

func (s *Server) getTender(w http.ResponseWriter, r *http.Request) {
	id, err := tenderID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	t, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) upsertTender(w http.ResponseWriter, r *http.Request) {
	var t model.Tender
	if !decodeBody(w, r, &t) {
		return
	}
	isNew, id, err := s.store.Upsert(r.Context(), t)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if isNew {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"id": id, "new": isNew})
}

func (s *Server) deleteTender(w http.ResponseWriter, r *http.Request) {
	id, err := tenderID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.store.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) updateStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status model.Status `json:"status"`
	}
	s.updateWorkflow(w, r, &body, func(id int64) error {
		return s.store.UpdateStatus(r.Context(), id, body.Status)
	})
}

func (s *Server) updatePriority(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Priority int `json:"priority"`
	}
	s.updateWorkflow(w, r, &body, func(id int64) error {
		return s.store.UpdatePriority(r.Context(), id, body.Priority)
	})
}

func (s *Server) updateNotes(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Notes string `json:"notes"`
	}
	s.updateWorkflow(w, r, &body, func(id int64) error {
		return s.store.UpdateNotes(r.Context(), id, body.Notes)
	})
}

// updateWorkflow decodes body, applies update and answers with the
// refreshed tender.
func (s *Server) updateWorkflow(w http.ResponseWriter, r *http.Request, body any, update func(id int64) error) {
	id, err := tenderID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !decodeBody(w, r, body) {
		return
	}
	if err := update(id); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit")
	if !ok || limit < 0 {
		writeMessage(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	entries, err := s.store.ListSearchHistory(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
