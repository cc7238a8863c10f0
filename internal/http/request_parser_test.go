package http

import (
	"errors"
	"net/http"
	"testing"

	"payup/internal/core"
	"payup/internal/services"
	"payup/internal/store"
)

func ptr[T any](v T) *T { return &v }

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		decimal string
		cents   *int64
		want    int64
		wantErr error
	}{
		{"decimal dot", "12.34", nil, 1234, nil},
		{"decimal comma", "12,34", nil, 1234, nil},
		{"decimal rounding", "0.005", nil, 1, nil},
		{"cents", "", ptr(int64(99)), 99, nil},
		{"neither", "", nil, 0, core.ErrInvalidAmount},
		{"both", "1", ptr(int64(100)), 0, errBadRequest},
		{"zero cents", "", ptr(int64(0)), 0, core.ErrInvalidAmount},
		{"negative cents", "", ptr(int64(-5)), 0, core.ErrInvalidAmount},
		{"garbage", "1.2.3", nil, 0, core.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAmount(tt.decimal, tt.cents)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("parseAmount() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseAmount() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("parseAmount() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParsePortion(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"0", 0, false},
		{"0.00", 0, false},
		{"0,0", 0, false},
		{"0.004", 0, false},
		{"2.50", 250, false},
		{".", 0, true},
		{"0.0.0", 0, true},
		{"0,.0", 0, true},
		{"", 0, true},
		{"-1", 0, true},
	}
	for _, tt := range tests {
		got, err := parsePortion(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parsePortion(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parsePortion(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestExpenseRequestToRecord(t *testing.T) {
	req := expenseRequest{
		Payer:         " alice ",
		Amount:        "10",
		Beneficiaries: []string{"alice", " bob"},
		Split:         "EXACT",
		Exact:         map[string]string{"alice": "2.50", "bob": "7.50"},
		Description:   "  Taxi\x00 ride ",
	}
	rec, err := req.toRecord()
	if err != nil {
		t.Fatalf("toRecord() error = %v", err)
	}
	if rec.Payer != "alice" || rec.Amount.Cents != 1000 || rec.Split != core.SplitExact {
		t.Errorf("toRecord() = %+v", rec)
	}
	if rec.Beneficiaries[1] != "bob" {
		t.Errorf("beneficiary not trimmed: %q", rec.Beneficiaries[1])
	}
	if rec.Portions["alice"] != 250 || rec.Portions["bob"] != 750 {
		t.Errorf("portions = %v", rec.Portions)
	}
	if rec.Description != "Taxi ride" {
		t.Errorf("description = %q", rec.Description)
	}
	if !rec.Timestamp.IsZero() {
		t.Errorf("timestamp should be left for the service to fill, got %v", rec.Timestamp)
	}

	req = expenseRequest{Payer: "a", Amount: "1", Beneficiaries: []string{"a"}, Split: "shares", Exact: map[string]string{"a": "1"}}
	if _, err := req.toRecord(); !errors.Is(err, core.ErrInvalidSplit) {
		t.Errorf("mixed portions error = %v, want ErrInvalidSplit", err)
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := parsePolicy(createGroupRequest{})
	if err != nil || p != core.PolicyUnset {
		t.Errorf("empty request: got %q, %v", p, err)
	}
	p, err = parsePolicy(createGroupRequest{PayerParticipates: ptr(true)})
	if err != nil || p != core.PayerIncluded {
		t.Errorf("payer_participates=true: got %q, %v", p, err)
	}
	p, err = parsePolicy(createGroupRequest{Policy: "payer_excluded"})
	if err != nil || p != core.PayerExcluded {
		t.Errorf("policy=payer_excluded: got %q, %v", p, err)
	}
	if _, err := parsePolicy(createGroupRequest{Policy: "x"}); !errors.Is(err, core.ErrInvalidPolicy) {
		t.Errorf("bad policy error = %v", err)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{errBadRequest, http.StatusBadRequest},
		{core.ErrInvalidAmount, http.StatusBadRequest},
		{core.ErrEmptyBeneficiaries, http.StatusBadRequest},
		{services.ErrInvalidGroup, http.StatusBadRequest},
		{store.ErrNotFound, http.StatusNotFound},
		{store.ErrConflict, http.StatusConflict},
		{core.ErrDuplicateRecord, http.StatusConflict},
		{core.ErrUnknownParticipant, http.StatusUnprocessableEntity},
		{core.ErrUnbalancedLedger, http.StatusUnprocessableEntity},
		{&http.MaxBytesError{Limit: 1}, http.StatusRequestEntityTooLarge},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got, _ := statusFor(tt.err); got != tt.status {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.status)
		}
	}
}
