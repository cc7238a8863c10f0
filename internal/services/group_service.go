// Package services orchestrates groups, their records and settlement plans
// across the store, the plan cache and the change publisher.
package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"payup/internal/amqp"
	"payup/internal/cache"
	"payup/internal/core"
	"payup/internal/ledger"
	"payup/internal/log"
	"payup/internal/metrics"
	"payup/internal/settlement"
	"payup/internal/store"
)

const (
	groupKeyLen      = 6
	groupKeyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxKeyAttempts   = 5
	maxGroupNameLen  = 80
)

var (
	ErrInvalidGroup      = errors.New("invalid group")
	ErrInvalidSettlement = errors.New("invalid settlement")
)

// Publisher announces ledger changes. *amqp.Client implements it.
type Publisher interface {
	PublishLedgerChanged(ctx context.Context, msg *amqp.LedgerChangedMessage) error
}

type GroupServiceConfig struct {
	// DefaultPolicy applies to groups created without an explicit policy.
	DefaultPolicy core.SplitPolicy
	PlanCacheSize int
	PlanCacheTTL  time.Duration
}

// GroupService is safe for concurrent use. Writes for the whole service are
// serialised so a record is validated against the records it will join.
type GroupService struct {
	store     store.GroupStore
	publisher Publisher
	plans     *cache.LRUCache[core.Summary]
	config    GroupServiceConfig
	logger    *log.Logger

	writeMu sync.Mutex
	// gens counts writes per group. A plan is cached only if no write
	// landed while it was computed.
	genMu sync.Mutex
	gens  map[string]uint64
	now   func() time.Time
	newKey  func() (string, error)
}

// NewGroupService wires a service. publisher may be nil.
func NewGroupService(st store.GroupStore, publisher Publisher, config GroupServiceConfig, logger *log.Logger) *GroupService {
	if logger == nil {
		logger = log.Discard()
	}
	if config.PlanCacheSize < 1 {
		config.PlanCacheSize = 256
	}
	if config.PlanCacheTTL <= 0 {
		config.PlanCacheTTL = 5 * time.Minute
	}
	return &GroupService{
		store:     st,
		publisher: publisher,
		plans:     cache.NewLRUCache[core.Summary](config.PlanCacheSize, config.PlanCacheTTL),
		config:    config,
		logger:    logger.WithComponent(log.ComponentGroup),
		gens:      make(map[string]uint64),
		now:       func() time.Time { return time.Now().UTC() },
		newKey:    randomGroupKey,
	}
}

// RegisterCaches hands the plan cache to a cache manager for TTL sweeps.
func (s *GroupService) RegisterCaches(m *cache.Manager) {
	m.Register("plans", s.plans)
}

// CreateGroup creates a group whose only member is creator.
func (s *GroupService) CreateGroup(ctx context.Context, name string, policy core.SplitPolicy, creator core.ParticipantID) (core.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxGroupNameLen {
		return core.Group{}, fmt.Errorf("%w: name must be 1-%d characters", ErrInvalidGroup, maxGroupNameLen)
	}
	creator = core.ParticipantID(strings.TrimSpace(string(creator)))
	if creator == "" {
		return core.Group{}, fmt.Errorf("creator: %w", core.ErrEmptyParticipant)
	}
	if policy == core.PolicyUnset {
		policy = s.config.DefaultPolicy
	}
	if err := policy.Validate(); err != nil {
		return core.Group{}, err
	}

	g := core.Group{
		Name:      name,
		Policy:    policy,
		Members:   []core.ParticipantID{creator},
		CreatedBy: creator,
		CreatedAt: s.now(),
	}

	for attempt := 1; ; attempt++ {
		key, err := s.newKey()
		if err != nil {
			return core.Group{}, fmt.Errorf("generate group key: %w", err)
		}
		g.Key = key
		err = s.store.CreateGroup(ctx, g)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrConflict) || attempt >= maxKeyAttempts {
			return core.Group{}, fmt.Errorf("create group: %w", err)
		}
		s.logger.DebugContext(ctx, "Group key collision, retrying", log.FieldGroupKey, key, "attempt", attempt)
	}

	metrics.GroupsCreated.Inc()
	s.logger.InfoContext(ctx, "Group created",
		log.FieldGroupKey, g.Key,
		log.FieldPolicy, string(g.Policy),
		log.FieldOperation, log.OpCreate)
	s.publish(ctx, g.Key, amqp.ReasonGroupCreated, "")
	return g, nil
}

func (s *GroupService) GetGroup(ctx context.Context, key string) (core.Group, error) {
	return s.store.GetGroup(ctx, normalizeKey(key))
}

// JoinGroup adds member to the roster. Joining twice is not an error.
func (s *GroupService) JoinGroup(ctx context.Context, key string, member core.ParticipantID) (core.Group, error) {
	key = normalizeKey(key)
	member = core.ParticipantID(strings.TrimSpace(string(member)))
	if member == "" {
		return core.Group{}, fmt.Errorf("member: %w", core.ErrEmptyParticipant)
	}

	s.writeMu.Lock()
	added, err := s.store.AddMember(ctx, key, member)
	if err == nil && added {
		s.invalidate(key)
	}
	s.writeMu.Unlock()
	if err != nil {
		return core.Group{}, fmt.Errorf("join group: %w", err)
	}

	if added {
		metrics.MembersJoined.Inc()
		s.logger.InfoContext(ctx, "Member joined group",
			log.FieldGroupKey, key,
			log.FieldOperation, log.OpJoin)
		s.publish(ctx, key, amqp.ReasonMemberJoined, "")
	}
	return s.store.GetGroup(ctx, key)
}

// AddExpense validates rec against the group's roster, policy and existing
// records, then appends it. An empty ID gets a UUID and a zero timestamp
// gets the current time.
func (s *GroupService) AddExpense(ctx context.Context, key string, rec core.ExpenseRecord) (core.ExpenseRecord, error) {
	rec.Settlement = false
	return s.appendRecord(ctx, normalizeKey(key), rec, amqp.ReasonExpenseAdded)
}

// RecordSettlement stores a repayment from one member to another. It is an
// exact-split record paid by from with to as the only sharer, so the ledger
// moves from's balance up and to's balance down by amount.
func (s *GroupService) RecordSettlement(ctx context.Context, key string, from, to core.ParticipantID, amount int64, note string) (core.ExpenseRecord, error) {
	if from == to {
		return core.ExpenseRecord{}, fmt.Errorf("%w: payer and payee are both %s", ErrInvalidSettlement, from)
	}
	if strings.TrimSpace(note) == "" {
		note = fmt.Sprintf("Settlement %s -> %s", from, to)
	}
	rec := core.ExpenseRecord{
		Payer:         from,
		Amount:        core.Money{Cents: amount},
		Beneficiaries: []core.ParticipantID{to},
		Split:         core.SplitExact,
		Portions:      map[core.ParticipantID]int64{to: amount},
		Description:   note,
		Settlement:    true,
	}
	return s.appendRecord(ctx, normalizeKey(key), rec, amqp.ReasonSettlementRecorded)
}

func (s *GroupService) appendRecord(ctx context.Context, key string, rec core.ExpenseRecord, reason string) (core.ExpenseRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}
	rec.Split = rec.Split.Normalize()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	g, err := s.store.GetGroup(ctx, key)
	if err != nil {
		return core.ExpenseRecord{}, fmt.Errorf("get group: %w", err)
	}
	existing, err := s.store.ListExpenses(ctx, key)
	if err != nil {
		return core.ExpenseRecord{}, fmt.Errorf("list expenses: %w", err)
	}
	if _, err := ledger.ComputeBalances(g.Policy, append(existing, rec), g.Members); err != nil {
		metrics.ValidationFailures.WithLabelValues(ErrorKind(err)).Inc()
		s.logger.WarnContext(ctx, "Expense rejected",
			log.NewFields().
				WithGroup(key).
				WithExpense(rec.ID, string(rec.Payer), rec.Amount.Cents, string(rec.Split), len(rec.Sharers())).
				WithError(err).
				WithErrorType(log.ErrorTypeValidation).
				ToSlice()...)
		return core.ExpenseRecord{}, err
	}

	if err := s.store.AppendExpense(ctx, key, rec); err != nil {
		return core.ExpenseRecord{}, fmt.Errorf("append expense: %w", err)
	}
	s.invalidate(key)

	kind := "expense"
	if rec.Settlement {
		kind = "settlement"
	}
	metrics.ExpensesRecorded.WithLabelValues(string(rec.Split), kind).Inc()
	s.logger.InfoContext(ctx, "Record appended",
		log.NewFields().
			WithGroup(key).
			WithExpense(rec.ID, string(rec.Payer), rec.Amount.Cents, string(rec.Split), len(rec.Sharers())).
			WithOperation(log.OpAppend).
			ToSlice()...)

	s.publish(ctx, key, reason, rec.ID)
	return rec, nil
}

// ListExpenses returns the group's records ordered by timestamp, then ID.
func (s *GroupService) ListExpenses(ctx context.Context, key string) ([]core.ExpenseRecord, error) {
	return s.store.ListExpenses(ctx, normalizeKey(key))
}

// Balances returns the group's net positions.
func (s *GroupService) Balances(ctx context.Context, key string) (core.BalanceMap, error) {
	sum, err := s.Plan(ctx, key)
	if err != nil {
		return nil, err
	}
	return sum.Balances, nil
}

// Plan returns balances and the settlement transfers for a group. Results
// are cached until the next write to the group or the cache TTL.
func (s *GroupService) Plan(ctx context.Context, key string) (core.Summary, error) {
	key = normalizeKey(key)
	if sum, ok := s.plans.Get(key); ok {
		metrics.PlansComputed.WithLabelValues("api", "hit").Inc()
		return cloneSummary(sum), nil
	}
	gen := s.generation(key)
	sum, err := s.compute(ctx, key, "api")
	if err != nil {
		return core.Summary{}, err
	}
	s.cachePlan(key, gen, sum)
	return cloneSummary(sum), nil
}

func (s *GroupService) generation(key string) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.gens[key]
}

// invalidate drops the cached plan and makes in-flight computations for key
// stale.
func (s *GroupService) invalidate(key string) {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	s.gens[key]++
	s.plans.Delete(key)
}

func (s *GroupService) cachePlan(key string, gen uint64, sum core.Summary) {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	if s.gens[key] != gen {
		return
	}
	s.plans.Set(key, sum)
}

// Recompute computes a plan without the cache and verifies that replaying
// the transfers settles every balance.
func (s *GroupService) Recompute(ctx context.Context, key string, source string) (core.Summary, error) {
	sum, err := s.compute(ctx, normalizeKey(key), source)
	if err != nil {
		return core.Summary{}, err
	}
	if err := settlement.Verify(sum.Balances, sum.Transfers); err != nil {
		metrics.ValidationFailures.WithLabelValues(ErrorKind(err)).Inc()
		return core.Summary{}, fmt.Errorf("verify plan: %w", err)
	}
	return sum, nil
}

// LatestSnapshot returns the plan last saved by the worker.
func (s *GroupService) LatestSnapshot(ctx context.Context, key string) (core.Summary, error) {
	return s.store.LatestPlan(ctx, normalizeKey(key))
}

func (s *GroupService) compute(ctx context.Context, key, source string) (core.Summary, error) {
	start := time.Now()

	g, err := s.store.GetGroup(ctx, key)
	if err != nil {
		return core.Summary{}, fmt.Errorf("get group: %w", err)
	}
	records, err := s.store.ListExpenses(ctx, key)
	if err != nil {
		return core.Summary{}, fmt.Errorf("list expenses: %w", err)
	}
	balances, err := ledger.ComputeBalances(g.Policy, records, g.Members)
	if err != nil {
		metrics.ValidationFailures.WithLabelValues(ErrorKind(err)).Inc()
		return core.Summary{}, fmt.Errorf("compute balances: %w", err)
	}
	transfers, err := settlement.Plan(balances)
	if err != nil {
		metrics.ValidationFailures.WithLabelValues(ErrorKind(err)).Inc()
		return core.Summary{}, fmt.Errorf("plan settlement: %w", err)
	}

	elapsed := time.Since(start)
	metrics.PlansComputed.WithLabelValues(source, "miss").Inc()
	metrics.TransfersPlanned.Observe(float64(len(transfers)))
	metrics.PlanDuration.Observe(float64(elapsed.Microseconds()) / 1000)

	s.logger.DebugContext(ctx, "Settlement plan computed",
		log.NewFields().
			WithGroup(key).
			WithPlan(len(records), len(g.Members), len(transfers)).
			WithOperation(log.OpPlan).
			ToSlice()...)

	return core.Summary{
		GroupKey:   key,
		Records:    len(records),
		TotalSpent: ledger.TotalSpent(records),
		Balances:   balances,
		Transfers:  transfers,
		ComputedAt: s.now(),
	}, nil
}

func (s *GroupService) publish(ctx context.Context, key, reason, expenseID string) {
	if s.publisher == nil {
		return
	}
	msg := amqp.NewLedgerChangedMessage(key, reason, expenseID)
	if err := s.publisher.PublishLedgerChanged(ctx, msg); err != nil {
		metrics.MessagesPublished.WithLabelValues("error").Inc()
		s.logger.ErrorContext(ctx, "Failed to publish ledger change",
			log.FieldGroupKey, key,
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeNetwork,
			log.FieldOperation, log.OpPublish)
		return
	}
	metrics.MessagesPublished.WithLabelValues("ok").Inc()
}

// ErrorKind maps a core error to a short label for metrics and logs.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, core.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, core.ErrInvalidSplit):
		return "invalid_split"
	case errors.Is(err, core.ErrUnknownParticipant):
		return "unknown_participant"
	case errors.Is(err, core.ErrUnbalancedLedger):
		return "unbalanced_ledger"
	case errors.Is(err, core.ErrDuplicateRecord), errors.Is(err, store.ErrConflict):
		return "duplicate_record"
	case errors.Is(err, core.ErrInvalidPolicy):
		return "invalid_policy"
	case errors.Is(err, core.ErrEmptyParticipant):
		return "empty_participant"
	case errors.Is(err, core.ErrDescriptionTooLong):
		return "description_too_long"
	default:
		return "other"
	}
}

func normalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// randomGroupKey draws uniformly from groupKeyAlphabet. Bytes at or above
// the largest multiple of the alphabet size are discarded.
func randomGroupKey() (string, error) {
	const limit = 256 - 256%len(groupKeyAlphabet)
	key := make([]byte, 0, groupKeyLen)
	buf := make([]byte, 2*groupKeyLen)
	for len(key) < groupKeyLen {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			key = append(key, groupKeyAlphabet[int(b)%len(groupKeyAlphabet)])
			if len(key) == groupKeyLen {
				break
			}
		}
	}
	return string(key), nil
}

func cloneSummary(sum core.Summary) core.Summary {
	sum.Balances = sum.Balances.Clone()
	sum.Transfers = slices.Clone(sum.Transfers)
	if sum.Transfers == nil {
		sum.Transfers = []core.Transfer{}
	}
	return sum
}
