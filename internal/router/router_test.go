package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"ambassadorbonus/config"
	"ambassadorbonus/internal/auth"
	"ambassadorbonus/internal/database"
	"ambassadorbonus/internal/domain"
	"ambassadorbonus/internal/middleware"
	"ambassadorbonus/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() { gin.SetMode(gin.TestMode) }

type testServer struct {
	t      *testing.T
	cfg    *config.Config
	app    *App
	engine *gin.Engine
	calls  int32
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.AutoMigrate(db))

	ts := &testServer{t: t}
	points := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&ts.calls, 1)
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"balance":10}`))
	}))
	t.Cleanup(points.Close)

	cfg := config.Defaults()
	cfg.Server.Env = "test"
	cfg.JWT = config.JWTConfig{AccessSecret: "router-test", AccessExpiry: time.Hour, Issuer: "bonus-test"}
	cfg.Webhook.Secret = "hook-secret"
	cfg.PointsAPI.BaseURL = points.URL
	cfg.PointsAPI.RatePerSecond = 100
	cfg.Tiers.Ambassador.RequiredOrders = 1
	cfg.Tiers.Ambassador.BlockSize = 2
	cfg.Attachment.FraudIPCheck = false

	ts.cfg = cfg
	ts.app = NewApp(cfg, db)
	ts.engine = Setup(cfg, ts.app, middleware.NewIPRateLimiter(6000, 1000))
	return ts
}

func (ts *testServer) user(role string, parent *uint) *models.User {
	ts.t.Helper()
	u := &models.User{Email: uuid.NewString() + "@example.com", Role: role, ParentAmbassadorID: parent}
	require.NoError(ts.t, ts.app.Users.Create(context.Background(), u))
	return u
}

func (ts *testServer) token(u *models.User) string {
	ts.t.Helper()
	tok, err := auth.GenerateAccessToken(&ts.cfg.JWT, u.ID, u.Email, u.Role)
	require.NoError(ts.t, err)
	return tok
}

func (ts *testServer) do(method, path, token string, body interface{}, headers ...string) (int, map[string]interface{}) {
	ts.t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(ts.t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)
	var out map[string]interface{}
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w.Code, out
}

func (ts *testServer) order(ev map[string]interface{}) (int, map[string]interface{}) {
	return ts.do(http.MethodPost, "/api/v1/webhooks/orders", "", ev, middleware.WebhookSecretHeader, ts.cfg.Webhook.Secret)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	code, body := ts.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body["status"])
}

func TestOrderWebhookRequiresSecret(t *testing.T) {
	ts := newTestServer(t)
	code, _ := ts.do(http.MethodPost, "/api/v1/webhooks/orders", "", map[string]interface{}{"type": "completed"})
	require.Equal(t, http.StatusUnauthorized, code)

	code, _ = ts.order(map[string]interface{}{"type": "shipped", "order_id": "x", "customer_id": 1})
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = ts.order(map[string]interface{}{"type": "completed", "order_id": "x", "customer_id": 1, "total": "-4"})
	require.Equal(t, http.StatusBadRequest, code)
}

func TestReferralLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	amb := ts.user(domain.RoleAmbassador, nil)
	pid := amb.ID
	first := ts.user(domain.RoleCustomer, &pid)
	second := ts.user(domain.RoleCustomer, &pid)
	admin := ts.user(domain.RoleAdmin, nil)

	code, _ := ts.do(http.MethodGet, "/api/v1/me/referral-code", ts.token(first), nil)
	require.Equal(t, http.StatusForbidden, code)

	code, body := ts.do(http.MethodGet, "/api/v1/me/referral-code", ts.token(amb), nil)
	require.Equal(t, http.StatusOK, code)
	referral, _ := body["code"].(string)
	require.Len(t, referral, 8)

	code, _ = ts.do(http.MethodPost, "/api/v1/referrals/capture", ts.token(second), map[string]string{"code": "ZZZZZZZZ"})
	require.Equal(t, http.StatusNotFound, code)
	code, body = ts.do(http.MethodPost, "/api/v1/referrals/capture", ts.token(second), map[string]string{"code": referral})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["captured"])

	code, body = ts.order(map[string]interface{}{
		"type": "completed", "order_id": "h-1", "customer_id": first.ID, "total": "200.00", "coupon_code": referral,
	})
	require.Equal(t, http.StatusOK, code)
	commission := body["commission"].(map[string]interface{})
	require.Equal(t, true, commission["recorded"])
	require.Equal(t, "10", commission["amount"])

	code, body = ts.do(http.MethodGet, "/api/v1/me/attribution", ts.token(first), nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["active"])

	code, _ = ts.order(map[string]interface{}{
		"type": "completed", "order_id": "h-2", "customer_id": second.ID, "total": "100.00",
	})
	require.Equal(t, http.StatusOK, code)

	code, body = ts.do(http.MethodGet, "/api/v1/me/blocks", ts.token(amb), nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, float64(1), body["total"])

	code, body = ts.do(http.MethodGet, "/api/v1/me/progress", ts.token(amb), nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["children"], 2)

	code, _ = ts.do(http.MethodPost, "/api/v1/admin/payouts/run", ts.token(amb), nil)
	require.Equal(t, http.StatusForbidden, code)

	code, body = ts.do(http.MethodPost, "/api/v1/admin/payouts/run", ts.token(admin), nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, float64(3), body["paid_points"])
	require.Equal(t, int32(3), atomic.LoadInt32(&ts.calls))

	code, body = ts.do(http.MethodGet, "/api/v1/admin/blocks?paid=true", ts.token(admin), nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, float64(1), body["total"])
	blocks := body["data"].([]interface{})
	blockID := uint(blocks[0].(map[string]interface{})["id"].(float64))

	code, body = ts.do(http.MethodPost, fmt.Sprintf("/api/v1/admin/payouts/block/%d/dispatch", blockID), ts.token(admin), nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "already_paid", body["status"])
	require.Equal(t, int32(3), atomic.LoadInt32(&ts.calls))

	code, _ = ts.do(http.MethodPost, "/api/v1/admin/payouts/invoice/1/dispatch", ts.token(admin), nil)
	require.Equal(t, http.StatusBadRequest, code)
	code, _ = ts.do(http.MethodPost, "/api/v1/admin/payouts/commission/9999/dispatch", ts.token(admin), nil)
	require.Equal(t, http.StatusNotFound, code)

	code, body = ts.do(http.MethodGet, fmt.Sprintf("/api/v1/admin/attributions/%d/audit", second.ID), ts.token(admin), nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, float64(2), body["total"])

	code, body = ts.do(http.MethodGet, "/api/v1/me/commissions", ts.token(amb), nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["data"], 2)
}

func TestAdminSettings(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.token(ts.user(domain.RoleAdmin, nil))

	code, _ := ts.do(http.MethodPut, "/api/v1/admin/settings/server.port", admin, map[string]string{"value": "1"})
	require.Equal(t, http.StatusBadRequest, code)
	code, _ = ts.do(http.MethodPut, "/api/v1/admin/settings/"+domain.SettingPayoutMethod, admin, map[string]string{"value": "cash"})
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = ts.do(http.MethodPut, "/api/v1/admin/settings/"+domain.SettingPayoutMethod, admin, map[string]string{"value": "coupon"})
	require.Equal(t, http.StatusOK, code)

	code, body := ts.do(http.MethodGet, "/api/v1/admin/settings", admin, nil)
	require.Equal(t, http.StatusOK, code)
	overrides := body["overrides"].(map[string]interface{})
	require.Equal(t, "coupon", overrides[domain.SettingPayoutMethod])
	effective := body["effective"].(map[string]interface{})
	require.Equal(t, "coupon", effective["payout_method"])
}

func TestUserSyncWebhook(t *testing.T) {
	ts := newTestServer(t)
	amb := ts.user(domain.RoleAmbassador, nil)
	path := "/api/v1/webhooks/users"
	post := func(body map[string]interface{}) (int, map[string]interface{}) {
		return ts.do(http.MethodPost, path, "", body, middleware.WebhookSecretHeader, ts.cfg.Webhook.Secret)
	}

	code, _ := ts.do(http.MethodPost, path, "", map[string]interface{}{"id": 500})
	require.Equal(t, http.StatusUnauthorized, code)
	code, _ = post(map[string]interface{}{"id": 500, "email": "new@example.com", "role": "GUEST"})
	require.Equal(t, http.StatusBadRequest, code)

	code, body := post(map[string]interface{}{
		"id": 500, "email": "New@Example.com", "role": "CUSTOMER", "parent_ambassador_id": amb.ID,
	})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "new@example.com", body["email"])
	require.Equal(t, float64(amb.ID), body["parent_ambassador_id"])

	code, body = ts.order(map[string]interface{}{
		"type": "completed", "order_id": "sync-1", "customer_id": 500, "total": "50.00",
	})
	require.Equal(t, http.StatusOK, code)
	counters := body["counters"].(map[string]interface{})
	require.Equal(t, true, counters["ambassador"].(map[string]interface{})["counted"])
}

func TestThresholdChangeReevaluatesBlocks(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.token(ts.user(domain.RoleAdmin, nil))
	amb := ts.user(domain.RoleAmbassador, nil)
	pid := amb.ID
	key := domain.SettingAmbassadorRequiredOrders

	code, body := ts.do(http.MethodPut, "/api/v1/admin/settings/"+key, admin, map[string]string{"value": "3"})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, float64(0), body["blocks_awarded"])

	for i := 0; i < 2; i++ {
		child := ts.user(domain.RoleCustomer, &pid)
		code, _ = ts.order(map[string]interface{}{
			"type": "completed", "order_id": fmt.Sprintf("th-%d", i), "customer_id": child.ID, "total": "40.00",
		})
		require.Equal(t, http.StatusOK, code)
	}
	code, body = ts.do(http.MethodGet, "/api/v1/me/blocks", ts.token(amb), nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, float64(0), body["total"])

	code, body = ts.do(http.MethodPut, "/api/v1/admin/settings/"+key, admin, map[string]string{"value": "1"})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, float64(1), body["blocks_awarded"])

	code, body = ts.do(http.MethodGet, "/api/v1/me/blocks", ts.token(amb), nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, float64(1), body["total"])
}
