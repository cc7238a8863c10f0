package google

import (
	"time"

	"payup/internal/core"
)

// PlanRows lays a summary out as sheet rows: a header block, the balance of
// every participant and the transfers that settle them. Amounts are decimal
// strings so the sheet never sees floating point.
func PlanRows(g core.Group, s core.Summary) [][]any {
	rows := [][]any{
		{"Group", g.Name, g.Key},
		{"Computed at", s.ComputedAt.UTC().Format(time.RFC3339)},
		{"Records", s.Records},
		{"Total spent", s.TotalSpent.String()},
		{},
		{"Participant", "Balance"},
	}
	for _, id := range s.Balances.Participants() {
		rows = append(rows, []any{string(id), core.FormatCents(s.Balances[id])})
	}
	rows = append(rows, []any{}, []any{"From", "To", "Amount"})
	if len(s.Transfers) == 0 {
		rows = append(rows, []any{"Settled"})
	}
	for _, t := range s.Transfers {
		rows = append(rows, []any{string(t.From), string(t.To), core.FormatCents(t.Amount)})
	}
	return rows
}
