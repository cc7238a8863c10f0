package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"payup/internal/core"
)

const maxBodyBytes = 64 << 10

var errBadRequest = errors.New("bad request")

type createGroupRequest struct {
	Name    string `json:"name"`
	Creator string `json:"creator"`
	Policy  string `json:"policy,omitempty"`
	// PayerParticipates is an alternative to Policy.
	PayerParticipates *bool `json:"payer_participates,omitempty"`
}

type joinRequest struct {
	Member string `json:"member"`
}

// expenseRequest accepts the amount either as a decimal string ("12.34")
// or in cents. Shares carries weights for the shares split; Exact carries
// decimal owed amounts for the exact split.
type expenseRequest struct {
	ID            string            `json:"id,omitempty"`
	Payer         string            `json:"payer"`
	Amount        string            `json:"amount,omitempty"`
	AmountCents   *int64            `json:"amount_cents,omitempty"`
	Beneficiaries []string          `json:"beneficiaries"`
	Split         string            `json:"split,omitempty"`
	Shares        map[string]int64  `json:"shares,omitempty"`
	Exact         map[string]string `json:"exact,omitempty"`
	Description   string            `json:"description,omitempty"`
	Timestamp     *time.Time        `json:"timestamp,omitempty"`
}

type settlementRequest struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Amount      string `json:"amount,omitempty"`
	AmountCents *int64 `json:"amount_cents,omitempty"`
	Note        string `json:"note,omitempty"`
}

// decodeJSON reads a single JSON object from the body, rejecting unknown
// fields and trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: body must contain a single JSON object", errBadRequest)
	}
	return nil
}

// parseAmount resolves the decimal and cents forms. Exactly one must be set.
func parseAmount(decimal string, cents *int64) (int64, error) {
	decimal = strings.TrimSpace(decimal)
	switch {
	case decimal != "" && cents != nil:
		return 0, fmt.Errorf("%w: set amount or amount_cents, not both", errBadRequest)
	case cents != nil:
		if *cents <= 0 {
			return 0, fmt.Errorf("%w: amount_cents must be positive", core.ErrInvalidAmount)
		}
		return *cents, nil
	case decimal != "":
		v, err := core.ParseDecimalToCents(decimal)
		if err != nil {
			return 0, fmt.Errorf("amount %q: %w", decimal, err)
		}
		return v, nil
	default:
		return 0, fmt.Errorf("%w: amount is required", core.ErrInvalidAmount)
	}
}

func parsePolicy(req createGroupRequest) (core.SplitPolicy, error) {
	if req.Policy != "" && req.PayerParticipates != nil {
		return core.PolicyUnset, fmt.Errorf("%w: set policy or payer_participates, not both", errBadRequest)
	}
	if req.PayerParticipates != nil {
		return core.PolicyFromFlag(*req.PayerParticipates), nil
	}
	if req.Policy == "" {
		return core.PolicyUnset, nil
	}
	return core.ParsePolicy(req.Policy)
}

// toRecord converts the request into a record. Roster, split and overflow
// checks happen in the ledger.
func (req expenseRequest) toRecord() (core.ExpenseRecord, error) {
	amount, err := parseAmount(req.Amount, req.AmountCents)
	if err != nil {
		return core.ExpenseRecord{}, err
	}
	rec := core.ExpenseRecord{
		ID:          strings.TrimSpace(req.ID),
		Payer:       core.ParticipantID(strings.TrimSpace(req.Payer)),
		Amount:      core.Money{Cents: amount},
		Split:       core.SplitMethod(strings.ToLower(strings.TrimSpace(req.Split))),
		Description: sanitizeInput(req.Description),
	}
	for _, b := range req.Beneficiaries {
		rec.Beneficiaries = append(rec.Beneficiaries, core.ParticipantID(strings.TrimSpace(b)))
	}
	if req.Timestamp != nil {
		rec.Timestamp = req.Timestamp.UTC()
	}

	switch rec.Split.Normalize() {
	case core.SplitShares:
		if len(req.Exact) > 0 {
			return core.ExpenseRecord{}, fmt.Errorf("%w: exact portions given for a shares split", core.ErrInvalidSplit)
		}
		rec.Portions = make(map[core.ParticipantID]int64, len(req.Shares))
		for id, w := range req.Shares {
			rec.Portions[core.ParticipantID(strings.TrimSpace(id))] = w
		}
	case core.SplitExact:
		if len(req.Shares) > 0 {
			return core.ExpenseRecord{}, fmt.Errorf("%w: shares given for an exact split", core.ErrInvalidSplit)
		}
		rec.Portions = make(map[core.ParticipantID]int64, len(req.Exact))
		for id, s := range req.Exact {
			cents, err := parsePortion(s)
			if err != nil {
				return core.ExpenseRecord{}, fmt.Errorf("portion for %s: %w", id, err)
			}
			rec.Portions[core.ParticipantID(strings.TrimSpace(id))] = cents
		}
	default:
		if len(req.Shares) > 0 || len(req.Exact) > 0 {
			return core.ExpenseRecord{}, fmt.Errorf("%w: portions given for an equal split", core.ErrInvalidSplit)
		}
	}
	return rec, nil
}

// parsePortion allows a zero owed amount, which ParseDecimalToCents rejects.
func parsePortion(s string) (int64, error) {
	return core.ParsePortionToCents(s)
}

// sanitizeInput trims whitespace and drops control characters other than
// tab and newlines.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, s)
}
