// Package jobs holds the scheduled maintenance work: the retention
// pipeline that folds detailed voice sessions into monthly and yearly
// summaries to bound storage growth without losing cumulative totals.
package jobs

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	"voiceward/internal/config"
	"voiceward/internal/models"
	"voiceward/internal/shared"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TruncationStore is the persistence surface the retention pipeline needs.
// It only ever touches completed data; the in-memory active table is out of
// reach by construction.
type TruncationStore interface {
	SessionsBefore(ctx context.Context, cutoff time.Time) ([]models.CompletedSession, error)
	DeleteSessions(ctx context.Context, ids []primitive.ObjectID) (int64, error)
	IncrementMonthly(ctx context.Context, guildID, userID, yearMonth string, seconds, count int64) error
	MonthliesBefore(ctx context.Context, cutoffYearMonth string) ([]models.MonthlySummary, error)
	DeleteMonthlies(ctx context.Context, ids []primitive.ObjectID) (int64, error)
	IncrementYearly(ctx context.Context, guildID, userID string, year int, seconds, count int64) error
	DeleteYearliesBefore(ctx context.Context, cutoffYear int) (int64, error)
	Ping(ctx context.Context) error
}

// Result reports one cleanup run. Errors holds per-step failures; a partial
// run still returns a Result rather than failing outright.
type Result struct {
	RunID           string    `json:"run_id"`
	SessionsRemoved int       `json:"sessions_removed"`
	DataAggregated  int       `json:"data_aggregated"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
	Errors          []string  `json:"errors"`
	StartedAt       time.Time `json:"started_at"`
}

// Status describes the truncation service for status commands.
type Status struct {
	IsScheduled     bool      `json:"is_scheduled"`
	IsRunning       bool      `json:"is_running"`
	IsConnected     bool      `json:"is_connected"`
	LastCleanupDate time.Time `json:"last_cleanup_date"`
}

// TruncationService runs the three-tier retention pipeline: detailed
// sessions fold into monthly summaries, old monthlies fold into yearly
// summaries, and yearlies past the final tier are deleted. Only one run
// may be in flight at a time.
type TruncationService struct {
	store TruncationStore
	cfg   *config.Config

	mu          sync.Mutex
	running     bool
	scheduled   bool
	lastCleanup time.Time

	cron *cron.Cron
	now  func() time.Time
}

// NewTruncationService creates the retention service.
func NewTruncationService(store TruncationStore, cfg *config.Config) *TruncationService {
	return &TruncationService{
		store: store,
		cfg:   cfg,
		now:   time.Now,
	}
}

// Schedule registers the recurring cleanup using the configured cron
// expression.
func (t *TruncationService) Schedule() error {
	c := cron.New()
	_, err := c.AddFunc(t.cfg.CleanupSchedule, func() {
		if _, err := t.RunCleanup(context.Background()); err != nil {
			log.Printf("[TRUNCATION] scheduled run skipped: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", t.cfg.CleanupSchedule, err)
	}

	c.Start()

	t.mu.Lock()
	t.cron = c
	t.scheduled = true
	t.mu.Unlock()

	log.Printf("[TRUNCATION] cleanup scheduled: %q", t.cfg.CleanupSchedule)
	return nil
}

// Stop cancels the recurring trigger. An in-flight run completes.
func (t *TruncationService) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cron != nil {
		t.cron.Stop()
		t.cron = nil
	}
	t.scheduled = false
}

// RunCleanup executes one retention pass. A second invocation while one is
// running returns shared.ErrCleanupRunning without touching any data. Step
// failures are collected into the result; the call itself only errors on
// the concurrency guard.
func (t *TruncationService) RunCleanup(ctx context.Context) (*Result, error) {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return nil, shared.ErrCleanupRunning
	}
	t.running = true
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.running = false
		t.mu.Unlock()
	}()

	started := t.now().UTC()
	result := &Result{
		RunID:     uuid.NewString(),
		StartedAt: started,
		Errors:    []string{},
	}

	log.Printf("[TRUNCATION] run %s starting (detail=%dd monthly=%dm yearly=%dy)",
		result.RunID, t.cfg.DetailedRetentionDays, t.cfg.MonthlyRetentionMonths, t.cfg.YearlyRetentionYears)

	t.foldSessions(ctx, result)
	t.foldMonthlies(ctx, result)
	t.expireYearlies(ctx, result)

	result.ExecutionTimeMs = time.Since(started).Milliseconds()

	t.mu.Lock()
	t.lastCleanup = started
	t.mu.Unlock()

	log.Printf("[TRUNCATION] run %s done: removed=%d aggregated=%d errors=%d in %dms",
		result.RunID, result.SessionsRemoved, result.DataAggregated, len(result.Errors), result.ExecutionTimeMs)
	return result, nil
}

type foldKey struct {
	guildID string
	userID  string
	bucket  string
}

// foldSessions rolls detailed sessions older than the detail window into
// monthly summaries. Each group is committed before its sources are
// deleted: a crash between the two leaves the sources intact and safe to
// re-fold, at the documented cost of possible double counting on retry.
func (t *TruncationService) foldSessions(ctx context.Context, result *Result) {
	cutoff := t.now().UTC().AddDate(0, 0, -t.cfg.DetailedRetentionDays)

	sessions, err := t.store.SessionsBefore(ctx, cutoff)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("load sessions: %v", err))
		return
	}
	if len(sessions) == 0 {
		return
	}

	groups := make(map[foldKey]struct {
		seconds int64
		ids     []primitive.ObjectID
	})
	for _, s := range sessions {
		key := foldKey{s.GuildID, s.UserID, s.JoinedAt.UTC().Format("2006-01")}
		g := groups[key]
		g.seconds += s.DurationSeconds
		g.ids = append(g.ids, s.ID)
		groups[key] = g
	}

	for _, key := range sortedFoldKeys(groups) {
		g := groups[key]
		if err := t.store.IncrementMonthly(ctx, key.guildID, key.userID, key.bucket, g.seconds, int64(len(g.ids))); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("fold sessions for %s/%s/%s: %v", key.guildID, key.userID, key.bucket, err))
			continue
		}
		result.DataAggregated++

		deleted, err := t.store.DeleteSessions(ctx, g.ids)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("delete folded sessions for %s/%s/%s: %v", key.guildID, key.userID, key.bucket, err))
			continue
		}
		result.SessionsRemoved += int(deleted)
	}
}

// foldMonthlies rolls monthly summaries older than the monthly window into
// yearly summaries, with the same commit-then-delete ordering.
func (t *TruncationService) foldMonthlies(ctx context.Context, result *Result) {
	cutoff := t.now().UTC().AddDate(0, -t.cfg.MonthlyRetentionMonths, 0).Format("2006-01")

	monthlies, err := t.store.MonthliesBefore(ctx, cutoff)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("load monthly summaries: %v", err))
		return
	}

	groups := make(map[foldKey]struct {
		seconds int64
		count   int64
		ids     []primitive.ObjectID
	})
	for _, m := range monthlies {
		if len(m.YearMonth) < 4 {
			result.Errors = append(result.Errors, fmt.Sprintf("bad yearMonth %q on summary %s", m.YearMonth, m.ID.Hex()))
			continue
		}
		key := foldKey{m.GuildID, m.UserID, m.YearMonth[:4]}
		g := groups[key]
		g.seconds += m.TotalSeconds
		g.count += m.SessionCount
		g.ids = append(g.ids, m.ID)
		groups[key] = g
	}

	for key, g := range groups {
		year, err := strconv.Atoi(key.bucket)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("bad year bucket %q: %v", key.bucket, err))
			continue
		}

		if err := t.store.IncrementYearly(ctx, key.guildID, key.userID, year, g.seconds, g.count); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("fold monthlies for %s/%s/%d: %v", key.guildID, key.userID, year, err))
			continue
		}
		result.DataAggregated++

		if _, err := t.store.DeleteMonthlies(ctx, g.ids); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("delete folded monthlies for %s/%s/%d: %v", key.guildID, key.userID, year, err))
		}
	}
}

// expireYearlies deletes yearly rows past the final retention tier. This
// is the pipeline's only lossy step.
func (t *TruncationService) expireYearlies(ctx context.Context, result *Result) {
	cutoffYear := t.now().UTC().AddDate(-t.cfg.YearlyRetentionYears, 0, 0).Year()

	deleted, err := t.store.DeleteYearliesBefore(ctx, cutoffYear)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("expire yearly summaries: %v", err))
		return
	}
	if deleted > 0 {
		log.Printf("[TRUNCATION] expired %d yearly summaries before %d", deleted, cutoffYear)
	}
}

func sortedFoldKeys(groups map[foldKey]struct {
	seconds int64
	ids     []primitive.ObjectID
}) []foldKey {
	keys := make([]foldKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].guildID != keys[j].guildID {
			return keys[i].guildID < keys[j].guildID
		}
		if keys[i].userID != keys[j].userID {
			return keys[i].userID < keys[j].userID
		}
		return keys[i].bucket < keys[j].bucket
	})
	return keys
}

// Status reports scheduling, run state and store reachability.
func (t *TruncationService) Status(ctx context.Context) Status {
	t.mu.Lock()
	status := Status{
		IsScheduled:     t.scheduled,
		IsRunning:       t.running,
		LastCleanupDate: t.lastCleanup,
	}
	t.mu.Unlock()

	status.IsConnected = t.store.Ping(ctx) == nil
	return status
}
