package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"payup/internal/core"
	"payup/internal/log"
	"payup/internal/services"
	"payup/internal/store"
)

type groupResponse struct {
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	Policy    string    `json:"policy"`
	Members   []string  `json:"members"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

type expenseResponse struct {
	ID            string           `json:"id"`
	Payer         string           `json:"payer"`
	AmountCents   int64            `json:"amount_cents"`
	Amount        string           `json:"amount"`
	Beneficiaries []string         `json:"beneficiaries"`
	Split         string           `json:"split"`
	Portions      map[string]int64 `json:"portions,omitempty"`
	Description   string           `json:"description,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
	Settlement    bool             `json:"settlement"`
}

type balanceEntry struct {
	Participant string `json:"participant"`
	Cents       int64  `json:"cents"`
	Amount      string `json:"amount"`
}

type transferEntry struct {
	From        string `json:"from"`
	To          string `json:"to"`
	AmountCents int64  `json:"amount_cents"`
	Amount      string `json:"amount"`
}

type balancesResponse struct {
	GroupKey string         `json:"group_key"`
	Balances []balanceEntry `json:"balances"`
	Settled  bool           `json:"settled"`
}

type planResponse struct {
	GroupKey        string          `json:"group_key"`
	Records         int             `json:"records"`
	TotalSpentCents int64           `json:"total_spent_cents"`
	TotalSpent      string          `json:"total_spent"`
	Balances        []balanceEntry  `json:"balances"`
	Transfers       []transferEntry `json:"transfers"`
	Settled         bool            `json:"settled"`
	ComputedAt      time.Time       `json:"computed_at"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	RequestID string `json:"request_id,omitempty"`
}

func newGroupResponse(g core.Group) groupResponse {
	members := make([]string, len(g.Members))
	for i, m := range g.Members {
		members[i] = string(m)
	}
	return groupResponse{
		Key:       g.Key,
		Name:      g.Name,
		Policy:    string(g.Policy),
		Members:   members,
		CreatedBy: string(g.CreatedBy),
		CreatedAt: g.CreatedAt,
	}
}

func newExpenseResponse(rec core.ExpenseRecord) expenseResponse {
	out := expenseResponse{
		ID:            rec.ID,
		Payer:         string(rec.Payer),
		AmountCents:   rec.Amount.Cents,
		Amount:        rec.Amount.String(),
		Beneficiaries: make([]string, len(rec.Beneficiaries)),
		Split:         string(rec.Split.Normalize()),
		Description:   rec.Description,
		Timestamp:     rec.Timestamp,
		Settlement:    rec.Settlement,
	}
	for i, b := range rec.Beneficiaries {
		out.Beneficiaries[i] = string(b)
	}
	if len(rec.Portions) > 0 {
		out.Portions = make(map[string]int64, len(rec.Portions))
		for id, v := range rec.Portions {
			out.Portions[string(id)] = v
		}
	}
	return out
}

// newBalanceEntries lists balances in participant order.
func newBalanceEntries(b core.BalanceMap) []balanceEntry {
	out := make([]balanceEntry, 0, len(b))
	for _, id := range b.Participants() {
		out = append(out, balanceEntry{
			Participant: string(id),
			Cents:       b[id],
			Amount:      core.FormatCents(b[id]),
		})
	}
	return out
}

func newBalancesResponse(key string, b core.BalanceMap) balancesResponse {
	return balancesResponse{
		GroupKey: key,
		Balances: newBalanceEntries(b),
		Settled:  b.IsSettled(),
	}
}

func newPlanResponse(sum core.Summary) planResponse {
	transfers := make([]transferEntry, len(sum.Transfers))
	for i, t := range sum.Transfers {
		transfers[i] = transferEntry{
			From:        string(t.From),
			To:          string(t.To),
			AmountCents: t.Amount,
			Amount:      core.FormatCents(t.Amount),
		}
	}
	return planResponse{
		GroupKey:        sum.GroupKey,
		Records:         sum.Records,
		TotalSpentCents: sum.TotalSpent.Cents,
		TotalSpent:      sum.TotalSpent.String(),
		Balances:        newBalanceEntries(sum.Balances),
		Transfers:       transfers,
		Settled:         len(sum.Transfers) == 0,
		ComputedAt:      sum.ComputedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeMessage(w http.ResponseWriter, r *http.Request, status int, kind, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Kind:      kind,
		RequestID: log.RequestID(r.Context()),
	})
}

// writeError maps err onto a status code. Unexpected errors are logged and
// their text is not sent to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeInternal)
		msg = "internal error"
	}
	writeMessage(w, r, status, kind, msg)
}

func statusFor(err error) (int, string) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, "body_too_large"
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, services.ErrInvalidGroup):
		return http.StatusBadRequest, "invalid_group"
	case errors.Is(err, services.ErrInvalidSettlement):
		return http.StatusBadRequest, "invalid_settlement"
	}

	kind := services.ErrorKind(err)
	switch kind {
	case "invalid_amount", "invalid_split", "invalid_policy", "empty_participant", "description_too_long":
		return http.StatusBadRequest, kind
	case "duplicate_record":
		return http.StatusConflict, kind
	case "unknown_participant", "unbalanced_ledger":
		return http.StatusUnprocessableEntity, kind
	default:
		return http.StatusInternalServerError, "internal"
	}
}
