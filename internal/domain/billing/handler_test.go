package billing_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starline/starline-api/internal/domain/billing"
	"github.com/starline/starline-api/internal/middleware"
	"github.com/starline/starline-api/internal/pkg/jwt"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	} `json:"error"`
}

type api struct {
	t       *testing.T
	f       *fixture
	handler http.Handler
	tokens  *jwt.Service
}

func newAPI(t *testing.T) *api {
	t.Helper()
	f := newFixture(t)
	tokens := jwt.NewService("test-secret", time.Minute)
	auth := middleware.Auth(tokens)
	h := billing.NewHandler(f.svc)

	r := chi.NewRouter()
	r.Mount("/api/v1/calls", h.CallRoutes(auth))
	r.Mount("/api/v1/liveparties", h.LivePartyRoutes(auth))
	r.Mount("/api/v1/battles", h.BattleRoutes(auth))
	r.With(auth).Post("/api/v1/wallet/topup", h.TopUp)
	return &api{t: t, f: f, handler: r, tokens: tokens}
}

func (a *api) do(userID uuid.UUID, role, method, path, body string, headers ...string) (int, envelope) {
	a.t.Helper()
	token, err := a.tokens.GenerateAccessToken(userID, role)
	require.NoError(a.t, err)

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	var env envelope
	require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec.Code, env
}

func (a *api) service(method, path, body string) (int, envelope) {
	return a.do(uuid.New(), jwt.RoleService, method, path, body)
}

func TestHandler_CallLifecycle(t *testing.T) {
	a := newAPI(t)
	caller := uuid.New()
	a.f.store.SeedWallet(caller, 100, 0)

	// Burn the trial so the second call is charged.
	first := a.f.activeCall(t, caller, 10, "STARS")
	_, err := a.f.svc.EndCall(t.Context(), first.ID, 10)
	require.NoError(t, err)

	code, env := a.service(http.MethodPost, "/api/v1/calls", fmt.Sprintf(
		`{"caller_id":%q,"receiver_id":%q,"rate_per_minute":10,"currency":"STARS"}`, caller, uuid.New()))
	require.Equal(t, http.StatusCreated, code)
	var call billing.Call
	require.NoError(t, json.Unmarshal(env.Data, &call))
	assert.Equal(t, billing.StateInitiated, call.State)

	code, _ = a.service(http.MethodPost, "/api/v1/calls/"+call.ID.String()+"/end", `{"duration_seconds":60}`)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = a.service(http.MethodPost, "/api/v1/calls/"+call.ID.String()+"/start", "")
	require.Equal(t, http.StatusOK, code)

	code, env = a.service(http.MethodPost, "/api/v1/calls/"+call.ID.String()+"/end", `{"duration_seconds":60}`)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &call))
	assert.Equal(t, billing.PaymentPaid, call.PaymentStatus)
	assert.Equal(t, int64(90), a.f.stars(t, caller))

	code, _ = a.service(http.MethodGet, "/api/v1/calls/"+call.ID.String(), "")
	assert.Equal(t, http.StatusOK, code)
}

func TestHandler_CallRoutesRequireService(t *testing.T) {
	a := newAPI(t)
	code, env := a.do(uuid.New(), jwt.RoleUser, http.MethodPost, "/api/v1/calls", `{}`)
	assert.Equal(t, http.StatusForbidden, code)
	assert.False(t, env.Success)
}

func TestHandler_UpgradeRequired(t *testing.T) {
	a := newAPI(t)
	caller := uuid.New()
	first := a.f.activeCall(t, caller, 10, "STARS")
	_, err := a.f.svc.EndCall(t.Context(), first.ID, 10)
	require.NoError(t, err)

	code, env := a.service(http.MethodPost, "/api/v1/calls", fmt.Sprintf(
		`{"caller_id":%q,"receiver_id":%q,"rate_per_minute":10,"currency":"STARS"}`, caller, uuid.New()))
	require.Equal(t, http.StatusPaymentRequired, code)
	assert.Equal(t, "UPGRADE_REQUIRED", env.Error.Code)
	assert.Equal(t, "10", env.Error.Details["required"])
	assert.Equal(t, "0", env.Error.Details["available"])
}

func TestHandler_InitiateCallValidation(t *testing.T) {
	a := newAPI(t)
	code, env := a.service(http.MethodPost, "/api/v1/calls", fmt.Sprintf(
		`{"caller_id":%q,"receiver_id":%q,"rate_per_minute":10,"currency":"EUR"}`, uuid.New(), uuid.New()))
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	code, _ = a.service(http.MethodPost, "/api/v1/calls/not-a-uuid/start", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHandler_LivePartyJoinAndTip(t *testing.T) {
	a := newAPI(t)
	host, viewer := uuid.New(), uuid.New()
	a.f.store.SeedWallet(viewer, 30, 0)

	code, env := a.service(http.MethodPost, "/api/v1/liveparties", fmt.Sprintf(
		`{"host_id":%q,"entry_fee":20,"viewer_rate_per_minute":1,"currency":"STARS"}`, host))
	require.Equal(t, http.StatusCreated, code)
	var party billing.LiveParty
	require.NoError(t, json.Unmarshal(env.Data, &party))
	base := "/api/v1/liveparties/" + party.ID.String()

	code, _ = a.do(viewer, jwt.RoleUser, http.MethodPost, base+"/join", "")
	require.Equal(t, http.StatusCreated, code)

	code, env = a.do(viewer, jwt.RoleUser, http.MethodPost, base+"/join", "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "ALREADY_JOINED", env.Error.Code)

	code, env = a.service(http.MethodPost, base+"/watch", fmt.Sprintf(`{"user_id":%q,"minutes_watched":1e17}`, viewer))
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	code, _ = a.service(http.MethodPost, base+"/watch", fmt.Sprintf(`{"user_id":%q,"minutes_watched":2.5}`, viewer))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(8), a.f.stars(t, viewer))

	code, _ = a.do(viewer, jwt.RoleUser, http.MethodPost, base+"/tips", `{"amount":5}`, billing.IdempotencyKeyHeader, "tip-1")
	require.Equal(t, http.StatusCreated, code)
	code, _ = a.do(viewer, jwt.RoleUser, http.MethodPost, base+"/tips", `{"amount":5}`, billing.IdempotencyKeyHeader, "tip-1")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(3), a.f.stars(t, viewer))
	assert.Equal(t, int64(5), a.f.stars(t, host))

	code, env = a.do(viewer, jwt.RoleUser, http.MethodPost, base+"/tips", `{"amount":50}`)
	assert.Equal(t, http.StatusPaymentRequired, code)
	assert.Equal(t, "INSUFFICIENT_FUNDS", env.Error.Code)

	code, _ = a.do(viewer, jwt.RoleUser, http.MethodPost, base+"/tips", `{"amount":1}`, billing.IdempotencyKeyHeader, "has space")
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, _ = a.do(viewer, jwt.RoleUser, http.MethodPost, base+"/end", "")
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = a.service(http.MethodPost, base+"/end", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestHandler_BattleTipsAndSettlement(t *testing.T) {
	a := newAPI(t)
	host1, host2, fan := uuid.New(), uuid.New(), uuid.New()
	a.f.store.SeedWallet(fan, 100, 0)

	code, env := a.service(http.MethodPost, "/api/v1/battles", fmt.Sprintf(`{"host1_id":%q,"host2_id":%q}`, host1, host2))
	require.Equal(t, http.StatusCreated, code)
	var battle billing.Battle
	require.NoError(t, json.Unmarshal(env.Data, &battle))
	base := "/api/v1/battles/" + battle.ID.String()

	code, _ = a.do(fan, jwt.RoleUser, http.MethodPost, base+"/tips", `{"amount":10}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, env = a.do(fan, jwt.RoleUser, http.MethodPost, base+"/tips", fmt.Sprintf(`{"host_id":%q,"amount":10}`, uuid.New()))
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, env.Error.Details, "host_id")

	code, _ = a.do(fan, jwt.RoleUser, http.MethodPost, base+"/tips", fmt.Sprintf(`{"host_id":%q,"amount":60}`, host2))
	require.Equal(t, http.StatusCreated, code)

	code, env = a.service(http.MethodPost, base+"/end", "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &battle))
	require.NotNil(t, battle.WinnerID)
	assert.Equal(t, host2, *battle.WinnerID)
	assert.Equal(t, int64(30), a.f.stars(t, host2))

	code, env = a.do(fan, jwt.RoleUser, http.MethodPost, base+"/tips", fmt.Sprintf(`{"host_id":%q,"amount":1}`, host1))
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "SESSION_NOT_ACTIVE", env.Error.Code)

	code, _ = a.do(fan, jwt.RoleUser, http.MethodGet, "/api/v1/battles/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHandler_TopUp(t *testing.T) {
	a := newAPI(t)
	user := uuid.New()

	code, env := a.do(user, jwt.RoleUser, http.MethodPost, "/api/v1/wallet/topup", `{"stars":500}`, billing.IdempotencyKeyHeader, "order-7")
	require.Equal(t, http.StatusAccepted, code)
	var res billing.TopUpResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	require.NotNil(t, res.Receipt)
	assert.Equal(t, "inv_1", res.Receipt.ExternalRef)

	code, _ = a.do(user, jwt.RoleUser, http.MethodPost, "/api/v1/wallet/topup", `{"stars":0}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
}
