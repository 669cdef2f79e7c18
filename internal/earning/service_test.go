package earning_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"loyalty_service/internal/clock"
	"loyalty_service/internal/earning"
	"loyalty_service/internal/ledger"
	"loyalty_service/internal/lock"
	"loyalty_service/internal/model"
	"loyalty_service/internal/store"
	"loyalty_service/internal/store/storetest"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	clock   *clock.Manual
	engine  *ledger.Engine
	repo    *earning.RepositoryImpl
	service *earning.Service
	locks   *storetest.Recorder
}

func setup(t *testing.T) fixture {
	t.Helper()
	db, uow := storetest.Open(t)
	return newFixture(db, uow)
}

// setupRecorded overlaps units of work and records the locks they take.
func setupRecorded(t *testing.T) fixture {
	t.Helper()
	db, uow, rec := storetest.OpenRecorded(t, 2*time.Millisecond)
	f := newFixture(db, uow)
	f.locks = rec
	return f
}

func newFixture(db *gorm.DB, uow *store.UnitOfWork) fixture {
	log := storetest.Logger()
	clk := clock.NewManual(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	users := ledger.NewRepository(db)
	engine := ledger.NewEngine(uow, users, clk, nil, nil, log)
	repo := earning.NewRepository(db)
	return fixture{
		clock:   clk,
		engine:  engine,
		repo:    repo,
		service: earning.NewService(uow, repo, users, engine, clk, nil, log),
	}
}

func (f fixture) rule(t *testing.T, points int64, dailyLimit int, active bool) model.EarningRule {
	t.Helper()
	r := model.EarningRule{
		ID:         uuid.NewString(),
		Title:      "Site visit",
		Points:     points,
		DailyLimit: dailyLimit,
		Active:     active,
		CreatedAt:  f.clock.Now(),
	}
	require.NoError(t, f.repo.CreateRule(context.Background(), &r))
	return r
}

func TestApplyRespectsDailyLimit(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	u, err := f.engine.CreateUser(ctx, "")
	require.NoError(t, err)
	rule := f.rule(t, 5, 2, true)

	for i := 0; i < 2; i++ {
		entry, err := f.service.Apply(ctx, u.ID, rule.ID, "")
		require.NoError(t, err)
		require.NotNil(t, entry.RuleID)
		assert.Equal(t, rule.ID, *entry.RuleID)
	}
	_, err = f.service.Apply(ctx, u.ID, rule.ID, "")
	assert.ErrorIs(t, err, earning.ErrDailyLimitReached)

	f.clock.Advance(16 * time.Hour)
	_, err = f.service.Apply(ctx, u.ID, rule.ID, "")
	require.NoError(t, err, "a new UTC day resets the cap")

	balance, err := f.engine.Balance(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(15), balance)
}

func TestDailyLimitResetsAtUTCMidnight(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	u, err := f.engine.CreateUser(ctx, "")
	require.NoError(t, err)
	rule := f.rule(t, 5, 1, true)

	f.clock.Set(time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC))
	_, err = f.service.Apply(ctx, u.ID, rule.ID, "")
	require.NoError(t, err)

	// Already the 11th in CET, still the 10th in UTC.
	f.clock.Set(time.Date(2026, 3, 11, 0, 59, 59, 0, time.FixedZone("CET", 3600)))
	_, err = f.service.Apply(ctx, u.ID, rule.ID, "")
	assert.ErrorIs(t, err, earning.ErrDailyLimitReached)

	f.clock.Set(time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC))
	_, err = f.service.Apply(ctx, u.ID, rule.ID, "")
	require.NoError(t, err)

	balance, err := f.engine.Balance(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)
}

func TestApplyConcurrentStaysUnderCap(t *testing.T) {
	f := setupRecorded(t)
	ctx := context.Background()
	u, err := f.engine.CreateUser(ctx, "")
	require.NoError(t, err)
	rule := f.rule(t, 1, 3, true)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.service.Apply(ctx, u.ID, rule.ID, ""); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, earning.ErrDailyLimitReached)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, success)

	keys := f.locks.Keys()
	require.Len(t, keys, 10)
	for _, key := range keys {
		assert.Equal(t, lock.User(u.ID), key)
	}
}

func TestApplyRuleErrors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	u, err := f.engine.CreateUser(ctx, "")
	require.NoError(t, err)

	_, err = f.service.Apply(ctx, u.ID, uuid.NewString(), "")
	assert.ErrorIs(t, err, earning.ErrRuleNotFound)

	inactive := f.rule(t, 5, 0, false)
	_, err = f.service.Apply(ctx, u.ID, inactive.ID, "")
	assert.ErrorIs(t, err, earning.ErrRuleInactive)

	uncapped := f.rule(t, 5, 0, true)
	_, err = f.service.Apply(ctx, uuid.NewString(), uncapped.ID, "")
	assert.ErrorIs(t, err, ledger.ErrUserNotFound)

	rules, err := f.service.Rules(ctx)
	require.NoError(t, err)
	assert.Len(t, rules, 1)
}
