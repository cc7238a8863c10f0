package storage

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type GroupRow struct {
	GroupKey  string
	Name      string
	Policy    string
	CreatedBy string
	CreatedAt int64
}

type ExpenseRow struct {
	Seq         int64
	ID          string
	Payer       string
	AmountCents int64
	Split       string
	Description string
	OccurredAt  int64
	Settlement  bool
}

type ShareRow struct {
	ExpenseSeq    int64
	ParticipantID string
	Portion       sql.NullInt64
}

type PlanRow struct {
	GroupKey      string
	Records       int64
	TotalCents    int64
	BalancesJSON  string
	TransfersJSON string
	ComputedAt    int64
}

const createGroup = `
INSERT INTO expense_groups (group_key, name, policy, created_by, created_at)
VALUES (?, ?, ?, ?, ?)`

func (q *Queries) CreateGroup(ctx context.Context, arg GroupRow) error {
	_, err := q.db.ExecContext(ctx, createGroup, arg.GroupKey, arg.Name, arg.Policy, arg.CreatedBy, arg.CreatedAt)
	return err
}

const getGroup = `
SELECT group_key, name, policy, created_by, created_at
FROM expense_groups WHERE group_key = ?`

func (q *Queries) GetGroup(ctx context.Context, key string) (GroupRow, error) {
	var g GroupRow
	err := q.db.QueryRowContext(ctx, getGroup, key).Scan(&g.GroupKey, &g.Name, &g.Policy, &g.CreatedBy, &g.CreatedAt)
	return g, err
}

const listGroupKeys = `SELECT group_key FROM expense_groups ORDER BY group_key`

func (q *Queries) ListGroupKeys(ctx context.Context) ([]string, error) {
	return q.strings(ctx, listGroupKeys)
}

const listMembers = `
SELECT participant_id FROM group_members
WHERE group_key = ? ORDER BY ordinal`

func (q *Queries) ListMembers(ctx context.Context, key string) ([]string, error) {
	return q.strings(ctx, listMembers, key)
}

const insertMember = `
INSERT OR IGNORE INTO group_members (group_key, participant_id, ordinal)
VALUES (?, ?, (SELECT COUNT(*) FROM group_members WHERE group_key = ?))`

// InsertMember returns the number of rows inserted: 0 when the participant
// is already on the roster.
func (q *Queries) InsertMember(ctx context.Context, key, participant string) (int64, error) {
	res, err := q.db.ExecContext(ctx, insertMember, key, participant, key)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const expenseExists = `
SELECT EXISTS (SELECT 1 FROM expenses WHERE group_key = ? AND id = ?)`

func (q *Queries) ExpenseExists(ctx context.Context, key, id string) (bool, error) {
	var ok bool
	err := q.db.QueryRowContext(ctx, expenseExists, key, id).Scan(&ok)
	return ok, err
}

const insertExpense = `
INSERT INTO expenses (group_key, id, payer, amount_cents, split, description, occurred_at, settlement)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertExpense(ctx context.Context, key string, arg ExpenseRow) (int64, error) {
	res, err := q.db.ExecContext(ctx, insertExpense,
		key, arg.ID, arg.Payer, arg.AmountCents, arg.Split, arg.Description, arg.OccurredAt, arg.Settlement)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const insertShare = `
INSERT INTO expense_shares (expense_seq, participant_id, portion, ordinal)
VALUES (?, ?, ?, ?)`

func (q *Queries) InsertShare(ctx context.Context, arg ShareRow, ordinal int) error {
	_, err := q.db.ExecContext(ctx, insertShare, arg.ExpenseSeq, arg.ParticipantID, arg.Portion, ordinal)
	return err
}

const listExpenses = `
SELECT seq, id, payer, amount_cents, split, description, occurred_at, settlement
FROM expenses WHERE group_key = ?
ORDER BY occurred_at, id, seq`

func (q *Queries) ListExpenses(ctx context.Context, key string) ([]ExpenseRow, error) {
	rows, err := q.db.QueryContext(ctx, listExpenses, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ExpenseRow
	for rows.Next() {
		var e ExpenseRow
		if err := rows.Scan(&e.Seq, &e.ID, &e.Payer, &e.AmountCents, &e.Split, &e.Description, &e.OccurredAt, &e.Settlement); err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

const listShares = `
SELECT s.expense_seq, s.participant_id, s.portion
FROM expense_shares s JOIN expenses e ON e.seq = s.expense_seq
WHERE e.group_key = ?
ORDER BY s.expense_seq, s.ordinal`

func (q *Queries) ListShares(ctx context.Context, key string) ([]ShareRow, error) {
	rows, err := q.db.QueryContext(ctx, listShares, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ShareRow
	for rows.Next() {
		var s ShareRow
		if err := rows.Scan(&s.ExpenseSeq, &s.ParticipantID, &s.Portion); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

const upsertPlan = `
INSERT INTO plan_snapshots (group_key, records, total_cents, balances_json, transfers_json, computed_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (group_key) DO UPDATE SET
    records = excluded.records,
    total_cents = excluded.total_cents,
    balances_json = excluded.balances_json,
    transfers_json = excluded.transfers_json,
    computed_at = excluded.computed_at`

func (q *Queries) UpsertPlan(ctx context.Context, arg PlanRow) error {
	_, err := q.db.ExecContext(ctx, upsertPlan,
		arg.GroupKey, arg.Records, arg.TotalCents, arg.BalancesJSON, arg.TransfersJSON, arg.ComputedAt)
	return err
}

const getPlan = `
SELECT group_key, records, total_cents, balances_json, transfers_json, computed_at
FROM plan_snapshots WHERE group_key = ?`

func (q *Queries) GetPlan(ctx context.Context, key string) (PlanRow, error) {
	var p PlanRow
	err := q.db.QueryRowContext(ctx, getPlan, key).Scan(&p.GroupKey, &p.Records, &p.TotalCents, &p.BalancesJSON, &p.TransfersJSON, &p.ComputedAt)
	return p, err
}

func (q *Queries) strings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}
