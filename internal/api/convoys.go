package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tutu-network/convoy/internal/app/convoy"
	"github.com/tutu-network/convoy/internal/domain"
	"github.com/tutu-network/convoy/internal/health"
)

// ConvoyView is the GET /api/convoys/{id} response.
type ConvoyView struct {
	Convoy     *domain.Convoy    `json:"convoy"`
	Tasks      []*domain.Task    `json:"tasks"`
	Completion convoy.Completion `json:"completion"`
}

// HookView is the GET /api/hooks/{id} response.
type HookView struct {
	Hook   *domain.Hook       `json:"hook"`
	Result *domain.HookResult `json:"result,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]any{"healthy": true, "checks": []health.Status{}})
		return
	}
	status := http.StatusOK
	healthy := s.health.IsHealthy()
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"healthy": healthy, "checks": s.health.Statuses()})
}

func (s *Server) handleListConvoys(w http.ResponseWriter, r *http.Request) {
	convoys, err := s.orch.ListConvoys()
	if err != nil {
		s.fail(w, err)
		return
	}
	if convoys == nil {
		convoys = []*domain.Convoy{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"convoys": convoys})
}

func (s *Server) handleGetConvoy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	comp, err := s.orch.CheckConvoyCompletion(id)
	if err != nil {
		s.fail(w, err)
		return
	}
	c, err := s.orch.Convoy(id)
	if err != nil {
		s.fail(w, err)
		return
	}
	tasks, err := s.orch.Tasks(id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ConvoyView{Convoy: c, Tasks: tasks, Completion: comp})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.orch.Task(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleListHooks(w http.ResponseWriter, r *http.Request) {
	if state := r.URL.Query().Get("state"); state != "" {
		hs := domain.HookState(state)
		if !validState(hs) {
			writeError(w, http.StatusBadRequest, "unknown hook state: "+state)
			return
		}
		ids, err := s.hooks.List(hs)
		if err != nil {
			s.fail(w, err)
			return
		}
		if ids == nil {
			ids = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"state": hs, "hooks": ids})
		return
	}

	all := make(map[domain.HookState][]string, len(domain.HookStates))
	for _, hs := range domain.HookStates {
		ids, err := s.hooks.List(hs)
		if err != nil {
			s.fail(w, err)
			return
		}
		if ids == nil {
			ids = []string{}
		}
		all[hs] = ids
	}
	counts, err := s.hooks.Counts()
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hooks": all, "counts": counts})
}

func (s *Server) handleGetHook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	hook, err := s.hooks.CheckHook(id)
	if err != nil {
		s.fail(w, err)
		return
	}
	if hook == nil {
		writeError(w, http.StatusNotFound, "hook not found: "+id)
		return
	}
	view := HookView{Hook: hook}
	if hook.State == domain.HookStateComplete {
		if view.Result, err = s.hooks.ReadResult(id); err != nil {
			s.fail(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, view)
}

// fail maps domain errors onto HTTP status codes.
func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrConvoyNotFound), errors.Is(err, domain.ErrTaskNotFound), errors.Is(err, domain.ErrHookNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrHookCorrupt):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func validState(s domain.HookState) bool {
	for _, hs := range domain.HookStates {
		if hs == s {
			return true
		}
	}
	return false
}
