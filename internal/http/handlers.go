package http

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"payup/internal/core"
)

func groupKey(r *http.Request) string {
	return strings.ToUpper(strings.TrimSpace(mux.Vars(r)["key"]))
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	policy, err := parsePolicy(req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	g, err := s.groups.CreateGroup(r.Context(), sanitizeInput(req.Name), policy, core.ParticipantID(strings.TrimSpace(req.Creator)))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/groups/"+g.Key)
	writeJSON(w, http.StatusCreated, newGroupResponse(g))
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	g, err := s.groups.GetGroup(r.Context(), groupKey(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newGroupResponse(g))
}

func (s *Server) handleJoinGroup(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	g, err := s.groups.JoinGroup(r.Context(), groupKey(r), core.ParticipantID(strings.TrimSpace(req.Member)))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newGroupResponse(g))
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	key := groupKey(r)
	// The group lookup turns an unknown key into a 404 rather than an empty list.
	if _, err := s.groups.GetGroup(r.Context(), key); err != nil {
		writeError(w, r, err)
		return
	}
	recs, err := s.groups.ListExpenses(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}

	onlySettlements := r.URL.Query().Get("settlements") == "true"
	out := make([]expenseResponse, 0, len(recs))
	for _, rec := range recs {
		if onlySettlements && !rec.Settlement {
			continue
		}
		out = append(out, newExpenseResponse(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddExpense(w http.ResponseWriter, r *http.Request) {
	var req expenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := req.toRecord()
	if err != nil {
		writeError(w, r, err)
		return
	}
	saved, err := s.groups.AddExpense(r.Context(), groupKey(r), rec)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newExpenseResponse(saved))
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	key := groupKey(r)
	b, err := s.groups.Balances(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBalancesResponse(key, b))
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	sum, err := s.groups.Plan(r.Context(), groupKey(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPlanResponse(sum))
}

func (s *Server) handleRecordSettlement(w http.ResponseWriter, r *http.Request) {
	var req settlementRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount, req.AmountCents)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := s.groups.RecordSettlement(r.Context(), groupKey(r),
		core.ParticipantID(strings.TrimSpace(req.From)),
		core.ParticipantID(strings.TrimSpace(req.To)),
		amount, sanitizeInput(req.Note))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newExpenseResponse(rec))
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	sum, err := s.groups.LatestSnapshot(r.Context(), groupKey(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPlanResponse(sum))
}
