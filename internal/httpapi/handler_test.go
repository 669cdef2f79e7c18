package httpapi_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"loyalty_service/internal/clock"
	"loyalty_service/internal/earning"
	"loyalty_service/internal/httpapi"
	"loyalty_service/internal/ledger"
	"loyalty_service/internal/metrics"
	"loyalty_service/internal/model"
	"loyalty_service/internal/notify"
	"loyalty_service/internal/prize"
	"loyalty_service/internal/redemption"
	"loyalty_service/internal/spin"
	"loyalty_service/internal/store/storetest"
	"loyalty_service/internal/tier"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type server struct {
	router  *gin.Engine
	rewards *redemption.RepositoryImpl
	clubs   *tier.RepositoryImpl
	wheels  *prize.RepositoryImpl
}

func newServer(t *testing.T) server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, uow := storetest.Open(t)
	log := storetest.Logger()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	uow.SetObserver(m)

	clk := clock.System{}
	hub := notify.NewHub()
	users := ledger.NewRepository(db)
	engine := ledger.NewEngine(uow, users, clk, hub, m, log)
	clubs := tier.NewRepository(db)
	gate := tier.NewGate(uow, clubs, users, engine, clk, nil, log)
	rewards := redemption.NewRepository(db)
	manager := redemption.NewManager(uow, rewards, users, engine, gate, clk, nil, m, log)
	wheels := prize.NewRepository(db)
	spins := spin.NewService(spin.Deps{
		UnitOfWork:  uow,
		Wheels:      wheels,
		Users:       users,
		Engine:      engine,
		Resolver:    prize.NewResolver(wheels, nil),
		Redemptions: manager,
		Eligibility: gate,
		Clock:       clk,
		Metrics:     m,
		Log:         log,
	})
	rules := earning.NewRepository(db)

	h := httpapi.NewHandler(httpapi.Deps{
		Ledger:      engine,
		Spins:       spins,
		Redemptions: manager,
		Tiers:       gate,
		Earning:     earning.NewService(uow, rules, users, engine, clk, nil, log),
		Events:      hub,
		Gatherer:    reg,
		Log:         log,
	})
	return server{router: h.Router(), rewards: rewards, clubs: clubs, wheels: wheels}
}

func (s server) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var out map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w.Code, out
}

func (s server) newUser(t *testing.T) string {
	t.Helper()
	code, body := s.do(t, http.MethodPost, "/users", nil)
	require.Equal(t, http.StatusCreated, code)
	return body["id"].(string)
}

func TestAwardDeductBalance(t *testing.T) {
	s := newServer(t)
	id := s.newUser(t)

	code, body := s.do(t, http.MethodPost, "/users/"+id+"/award", map[string]any{"amount": 100, "description": "visit"})
	require.Equal(t, http.StatusOK, code, body)
	assert.EqualValues(t, 100, body["balance_after"])

	code, body = s.do(t, http.MethodPost, "/users/"+id+"/deduct", map[string]any{"amount": 500})
	assert.Equal(t, http.StatusPaymentRequired, code)
	assert.Equal(t, "insufficient_balance", body["code"])

	code, body = s.do(t, http.MethodPost, "/users/"+id+"/deduct", map[string]any{"amount": 2.5})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "bad_request", body["code"])

	code, body = s.do(t, http.MethodPost, "/users/"+id+"/award", map[string]any{"amount": 0})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_amount", body["code"])

	code, body = s.do(t, http.MethodGet, "/users/"+id+"/balance", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 100, body["balance"])

	code, body = s.do(t, http.MethodGet, "/users/"+id+"/transactions", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["transactions"], 1)

	code, body = s.do(t, http.MethodGet, "/users/"+uuid.NewString()+"/balance", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "user_not_found", body["code"])
}

func TestRedeemAndReject(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()
	id := s.newUser(t)
	_, _ = s.do(t, http.MethodPost, "/users/"+id+"/award", map[string]any{"amount": 100})

	now := time.Now().UTC()
	reward := model.Reward{ID: uuid.NewString(), Title: "Mug", PointsCost: 60, Stock: 1, Active: true, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.rewards.CreateReward(ctx, &reward))

	code, body := s.do(t, http.MethodPost, "/users/"+id+"/redemptions", map[string]any{"reward_id": reward.ID})
	require.Equal(t, http.StatusCreated, code, body)
	redID := body["id"].(string)

	code, body = s.do(t, http.MethodPost, "/users/"+id+"/redemptions", map[string]any{"reward_id": reward.ID})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "out_of_stock", body["code"])

	code, body = s.do(t, http.MethodPatch, "/redemptions/"+redID, map[string]any{"status": "rejected", "note": "discontinued"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "rejected", body["status"])

	code, body = s.do(t, http.MethodPatch, "/redemptions/"+redID, map[string]any{"status": "completed"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "invalid_status", body["code"])

	_, body = s.do(t, http.MethodGet, "/users/"+id+"/balance", nil)
	assert.EqualValues(t, 100, body["balance"])

	code, body = s.do(t, http.MethodGet, "/users/"+id+"/reconcile", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, body["balance"], body["ledger_sum"])
}

func TestAwardRejectsOutOfRangeAmount(t *testing.T) {
	s := newServer(t)
	id := s.newUser(t)

	code, body := s.do(t, http.MethodPost, "/users/"+id+"/award", map[string]any{"amount": json.Number("18446744073709551617")})
	assert.Equal(t, http.StatusBadRequest, code, body)
	assert.Equal(t, "invalid_amount", body["code"])

	_, body = s.do(t, http.MethodGet, "/users/"+id+"/balance", nil)
	assert.EqualValues(t, 0, body["balance"])

	code, body = s.do(t, http.MethodPost, "/users/"+id+"/award", map[string]any{"amount": json.Number("9223372036854775807")})
	require.Equal(t, http.StatusOK, code, body)

	code, body = s.do(t, http.MethodPost, "/users/"+id+"/award", map[string]any{"amount": 1})
	assert.Equal(t, http.StatusBadRequest, code, body)
	assert.Equal(t, "invalid_amount", body["code"])

	code, body = s.do(t, http.MethodGet, "/users/"+id+"/reconcile", nil)
	require.Equal(t, http.StatusOK, code, body)
}

func TestRewardCatalogAndLookup(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()
	id := s.newUser(t)
	_, _ = s.do(t, http.MethodPost, "/users/"+id+"/award", map[string]any{"amount": 100})

	now := time.Now().UTC()
	mug := model.Reward{ID: uuid.NewString(), Title: "Mug", PointsCost: 60, Stock: 1, Active: true, CreatedAt: now, UpdatedAt: now}
	retired := model.Reward{ID: uuid.NewString(), Title: "Poster", PointsCost: 5, Stock: 1, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.rewards.CreateReward(ctx, &mug))
	require.NoError(t, s.rewards.CreateReward(ctx, &retired))

	code, body := s.do(t, http.MethodGet, "/rewards", nil)
	require.Equal(t, http.StatusOK, code)
	rewards := body["rewards"].([]any)
	require.Len(t, rewards, 1)
	assert.Equal(t, mug.ID, rewards[0].(map[string]any)["id"])

	code, body = s.do(t, http.MethodPost, "/users/"+id+"/redemptions", map[string]any{"reward_id": retired.ID})
	assert.Equal(t, http.StatusForbidden, code, body)
	assert.Equal(t, "reward_inactive", body["code"])

	code, body = s.do(t, http.MethodPost, "/users/"+id+"/redemptions", map[string]any{"reward_id": mug.ID})
	require.Equal(t, http.StatusCreated, code, body)
	redID := body["id"].(string)

	code, body = s.do(t, http.MethodGet, "/redemptions/"+redID, nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, id, body["user_id"])

	code, body = s.do(t, http.MethodGet, "/redemptions/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "redemption_not_found", body["code"])
}

func TestSpinAndOdds(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()
	id := s.newUser(t)

	w := model.Wheel{ID: uuid.NewString(), Title: "Daily", CostPoints: 10, Active: true, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.wheels.CreateWheel(ctx, &w, []model.Prize{
		{ID: uuid.NewString(), Title: "Nothing", Type: model.PrizeTypeEmpty, Probability: 1},
	}))

	code, body := s.do(t, http.MethodPost, "/users/"+id+"/spin", nil)
	assert.Equal(t, http.StatusPaymentRequired, code, body)

	_, _ = s.do(t, http.MethodPost, "/users/"+id+"/award", map[string]any{"amount": 10})
	code, body = s.do(t, http.MethodPost, "/users/"+id+"/spin", map[string]any{"wheel_id": w.ID})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "empty", body["prize_type"])
	assert.EqualValues(t, 0, body["new_balance"])

	code, body = s.do(t, http.MethodGet, "/wheels/"+w.ID+"/odds", nil)
	require.Equal(t, http.StatusOK, code)
	odds := body["odds"].([]any)
	require.Len(t, odds, 1)
	assert.Equal(t, "100", odds[0].(map[string]any)["percent"])
}

func TestUpgradeTier(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()
	id := s.newUser(t)
	_, _ = s.do(t, http.MethodPost, "/users/"+id+"/award", map[string]any{"amount": 50})

	silver := model.Club{ID: uuid.NewString(), Title: "Silver", MinPoints: 100, JoiningCost: 30, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.clubs.CreateClub(ctx, &silver))

	code, body := s.do(t, http.MethodPost, "/users/"+id+"/club", map[string]any{"club_id": silver.ID})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, silver.ID, body["club_id"])
	assert.EqualValues(t, 20, body["current_points"])

	code, body = s.do(t, http.MethodPost, "/users/"+id+"/club", map[string]any{"club_id": silver.ID})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "invalid_tier_transition", body["code"])

	code, _ = s.do(t, http.MethodPost, "/users/"+id+"/club", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newServer(t)
	id := s.newUser(t)
	_, _ = s.do(t, http.MethodPost, "/users/"+id+"/award", map[string]any{"amount": 5})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "loyalty_ledger_operations_total")
}

func TestEventStream(t *testing.T) {
	s := newServer(t)
	id := s.newUser(t)

	ts := httptest.NewServer(s.router)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/users/"+id+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, _ = s.do(t, http.MethodPost, "/users/"+id+"/award", map[string]any{"amount": 7})

	scanner := bufio.NewScanner(resp.Body)
	var lines []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break
		}
		lines = append(lines, line)
	}
	require.NotEmpty(t, lines)
	assert.Equal(t, "event:"+notify.EventPointsEarned, lines[0])
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], `"balance_after":7`)
}
