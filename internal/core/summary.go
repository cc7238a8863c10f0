package core

import "time"

// Group is a roster of participants sharing one ledger and one split policy.
type Group struct {
	Key       string
	Name      string
	Policy    SplitPolicy
	Members   []ParticipantID
	CreatedBy ParticipantID
	CreatedAt time.Time
}

// HasMember reports whether id is on the roster.
func (g Group) HasMember(id ParticipantID) bool {
	for _, m := range g.Members {
		if m == id {
			return true
		}
	}
	return false
}

// Summary is the computed view of a group at one point in time.
type Summary struct {
	GroupKey   string
	Records    int
	TotalSpent Money
	Balances   BalanceMap
	Transfers  []Transfer
	ComputedAt time.Time
}
