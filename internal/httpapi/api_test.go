package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clientdesk.org/internal/account"
	"clientdesk.org/internal/auth"
	"clientdesk.org/internal/authz"
	"clientdesk.org/internal/security"
	"clientdesk.org/internal/store/memory"
)

const password = "correct horse battery"

type testEnv struct {
	t      *testing.T
	srv    *httptest.Server
	users  *memory.Users
	log    *memory.RequestLog
	mailer *account.MemoryMailer
	issuer *auth.Issuer
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("db down") }

func newTestEnv(t *testing.T, settings security.Settings, ready ...Pinger) *testEnv {
	t.Helper()
	hash, err := auth.HashPassword(password)
	require.NoError(t, err)

	users := memory.NewUsers(
		account.User{ID: "u-adv", Email: "advisor@example.com", PasswordHash: hash, Role: authz.RoleAdvisor},
		account.User{ID: "u-mgr", Email: "manager@example.com", PasswordHash: hash, Role: authz.RoleManagingAdvisor},
		account.User{ID: "u-new", Email: "newcomer@example.com", PasswordHash: hash, Role: authz.RoleNewcomer},
		account.User{ID: "u-admin", Email: "admin@example.com", PasswordHash: hash, Role: authz.RoleAdministrator},
	)
	log := memory.NewRequestLog()
	mailer := &account.MemoryMailer{}

	issuer, err := auth.NewIssuer("test-secret", auth.WithTTL(time.Hour))
	require.NoError(t, err)
	loginChecker, err := security.NewLoginChecker(log, settings)
	require.NoError(t, err)
	emailChecker, err := security.NewEmailChecker(log, settings)
	require.NoError(t, err)
	verifiers, err := authz.NewSet(authz.DefaultHierarchy())
	require.NoError(t, err)

	api := New(Deps{
		Login:     account.NewAuthenticator(loginChecker, users, log, issuer),
		Recovery:  account.NewPasswordRecovery(users, account.NewDispatcher(emailChecker, mailer, log)),
		Tokens:    issuer,
		Roles:     users,
		Verifiers: verifiers,
		Ready:     ready,
		Version:   "test",
	}, WithRateLimit(1000, 1000))

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{t: t, srv: srv, users: users, log: log, mailer: mailer, issuer: issuer}
}

func (e *testEnv) do(method, path string, body any, token string) (*http.Response, map[string]any) {
	e.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(e.t, err)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, bytes.NewReader(payload))
	require.NoError(e.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (e *testEnv) token(userID string) string {
	e.t.Helper()
	tok, _, err := e.issuer.Issue(userID)
	require.NoError(e.t, err)
	return tok
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, security.DefaultSettings())
	resp, body := env.do(http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "test", body["version"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, body = env.do(http.MethodGet, "/readyz", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready", body["status"])

	down := newTestEnv(t, security.DefaultSettings(), failingPinger{})
	resp, body = down.do(http.MethodGet, "/readyz", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "db down", body["error"])
}

func TestNotFoundAndMethod(t *testing.T) {
	env := newTestEnv(t, security.DefaultSettings())
	resp, _ := env.do(http.MethodGet, "/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := env.do(http.MethodGet, "/v1/auth/login", nil, "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "method not allowed", body["error"])

	resp, _ = env.do(http.MethodGet, "/v1/authz/client/check", nil, "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, body = env.do(http.MethodGet, "/v1/unknown", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "resource not found", body["error"])
}

func TestLoginSuccess(t *testing.T) {
	env := newTestEnv(t, security.DefaultSettings())
	resp, body := env.do(http.MethodPost, "/v1/auth/login", map[string]string{
		"email": "Advisor@example.com", "password": password,
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "u-adv", body["user_id"])
	assert.Equal(t, "advisor", body["role"])

	claims, err := env.issuer.Parse(body["token"].(string))
	require.NoError(t, err)
	assert.Equal(t, "u-adv", claims.Subject)
	assert.Equal(t, 1, env.log.Len())
}

func TestLoginInvalidCredentials(t *testing.T) {
	env := newTestEnv(t, security.DefaultSettings())
	resp, body := env.do(http.MethodPost, "/v1/auth/login", map[string]string{
		"email": "advisor@example.com", "password": "nope",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid credentials", body["error"])

	resp, _ = env.do(http.MethodPost, "/v1/auth/login", map[string]string{"email": "advisor@example.com"}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(http.MethodPost, "/v1/auth/login", map[string]string{"email": "a", "password": "b", "extra": "c"}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLoginThrottleResponse(t *testing.T) {
	s := security.DefaultSettings()
	s.LoginThrottleRules = security.ThrottleRules{{Threshold: 2, Delay: security.Seconds(60)}}
	env := newTestEnv(t, s)
	creds := map[string]string{"email": "advisor@example.com", "password": "nope"}

	resp, _ := env.do(http.MethodPost, "/v1/auth/login", creds, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := env.do(http.MethodPost, "/v1/auth/login", creds, "")
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "USER_LOGIN", body["security_type"])
	assert.InDelta(t, 60, body["remaining_delay"], 1)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	// Even the right password is refused while the delay runs.
	resp, _ = env.do(http.MethodPost, "/v1/auth/login", map[string]string{"email": "advisor@example.com", "password": password}, "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, 2, env.log.Len(), "throttled attempts are not recorded")
}

func TestLoginCaptchaResponse(t *testing.T) {
	s := security.DefaultSettings()
	s.LoginThrottleRules = security.ThrottleRules{{Threshold: 1, Delay: security.Captcha}}
	env := newTestEnv(t, s)

	resp, body := env.do(http.MethodPost, "/v1/auth/login", map[string]string{"email": "x@example.com", "password": "nope"}, "")
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "captcha", body["remaining_delay"])
	assert.Empty(t, resp.Header.Get("Retry-After"))
}

func TestPasswordRecovery(t *testing.T) {
	s := security.DefaultSettings()
	s.GlobalDailyEmailThreshold = 1
	env := newTestEnv(t, s)

	resp, _ := env.do(http.MethodPost, "/v1/auth/password-recovery", map[string]string{"email": "manager@example.com"}, "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, env.mailer.Sent(), 1)
	assert.Equal(t, account.TemplatePasswordRecovery, env.mailer.Sent()[0].Template)

	resp, body := env.do(http.MethodPost, "/v1/auth/password-recovery", map[string]string{"email": "manager@example.com"}, "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "GLOBAL_EMAIL", body["security_type"])
	assert.Equal(t, "captcha", body["remaining_delay"])
}

func TestPasswordRecoveryUnknownEmailSendsNothing(t *testing.T) {
	env := newTestEnv(t, security.DefaultSettings())

	resp, _ := env.do(http.MethodPost, "/v1/auth/password-recovery", map[string]string{"email": "ghost@example.com"}, "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Empty(t, env.mailer.Sent())
}

func TestAuthzCheckRequiresToken(t *testing.T) {
	env := newTestEnv(t, security.DefaultSettings())

	resp, _ := env.do(http.MethodPost, "/v1/authz/client/check", map[string]any{"operation": "read"}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))

	resp, _ = env.do(http.MethodPost, "/v1/authz/client/check", map[string]any{"operation": "read"}, "garbage")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := env.do(http.MethodPost, "/v1/authz/client/check", map[string]any{"operation": "read"}, env.token("u-ghost"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unknown user", body["error"])
}

func TestAuthzCheckUpdate(t *testing.T) {
	env := newTestEnv(t, security.DefaultSettings())
	tok := env.token("u-adv")

	resp, body := env.do(http.MethodPost, "/v1/authz/client/check", map[string]any{
		"operation": "update",
		"owner_id":  "u-adv",
		"changes":   map[string]any{"first_name": "Ada", "client_status_id": 3},
	}, tok)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["granted"])
	assert.Equal(t, "conditional", body["privilege"])
	fields := body["fields"].(map[string]any)
	assert.Equal(t, "conditional", fields["client_status_id"])
	assert.Equal(t, "none", fields["deleted_at"])

	resp, body = env.do(http.MethodPost, "/v1/authz/client/check", map[string]any{
		"operation": "update",
		"owner_id":  "u-mgr",
		"changes":   map[string]any{"first_name": "Ada", "client_status_id": 3},
	}, tok)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Not allowed to update client.", body["error"])

	resp, _ = env.do(http.MethodPost, "/v1/authz/client/check", map[string]any{
		"operation": "update",
		"owner_id":  "u-adv",
		"changes":   map[string]any{},
	}, tok)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAuthzCheckRoleChangeAppliesToNextRequest(t *testing.T) {
	env := newTestEnv(t, security.DefaultSettings())
	tok := env.token("u-adv")
	req := map[string]any{"operation": "update", "owner_id": "u-adv", "changes": map[string]any{"phone": "123"}}

	resp, _ := env.do(http.MethodPost, "/v1/authz/client/check", req, tok)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, env.users.SetRole("u-adv", authz.RoleNewcomer))
	resp, _ = env.do(http.MethodPost, "/v1/authz/client/check", req, tok)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAuthzCheckUserRoles(t *testing.T) {
	env := newTestEnv(t, security.DefaultSettings())
	tok := env.token("u-mgr")

	resp, _ := env.do(http.MethodPost, "/v1/authz/user/check", map[string]any{
		"operation": "assign", "owner_id": "u-new", "new_role": "advisor",
	}, tok)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := env.do(http.MethodPost, "/v1/authz/user/check", map[string]any{
		"operation": "assign", "owner_id": "u-new", "new_role": "administrator",
	}, tok)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Not allowed to assign user.", body["error"])

	resp, _ = env.do(http.MethodPost, "/v1/authz/user/check", map[string]any{
		"operation": "create", "new_role": "root",
	}, tok)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuthzCheckUserTargetRoleResolvedFromStore(t *testing.T) {
	env := newTestEnv(t, security.DefaultSettings())
	tok := env.token("u-mgr")
	check := func(body map[string]any) int {
		resp, _ := env.do(http.MethodPost, "/v1/authz/user/check", body, tok)
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusForbidden, check(map[string]any{"operation": "delete", "owner_id": "u-admin"}))
	assert.Equal(t, http.StatusForbidden, check(map[string]any{
		"operation": "update", "owner_id": "u-admin", "changes": map[string]any{"email": "x@example.com"},
	}))
	assert.Equal(t, http.StatusOK, check(map[string]any{"operation": "delete", "owner_id": "u-new"}))
	assert.Equal(t, http.StatusOK, check(map[string]any{
		"operation": "update", "owner_id": "u-new", "changes": map[string]any{"email": "x@example.com"},
	}))

	// A caller cannot lower the target's role by claiming it.
	assert.Equal(t, http.StatusBadRequest, check(map[string]any{
		"operation": "delete", "owner_id": "u-admin", "target_role": "newcomer",
	}))
	assert.Equal(t, http.StatusBadRequest, check(map[string]any{"operation": "delete"}))
	assert.Equal(t, http.StatusNotFound, check(map[string]any{"operation": "delete", "owner_id": "u-ghost"}))

	require.NoError(t, env.users.SetRole("u-admin", authz.RoleNewcomer))
	assert.Equal(t, http.StatusOK, check(map[string]any{"operation": "delete", "owner_id": "u-admin"}))
}

func TestAuthzCheckNotesAndErrors(t *testing.T) {
	env := newTestEnv(t, security.DefaultSettings())
	tok := env.token("u-adv")

	resp, _ := env.do(http.MethodPost, "/v1/authz/note/check", map[string]any{
		"operation": "read", "owner_id": "u-mgr", "client_owner_id": "u-mgr", "hidden": true,
	}, tok)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = env.do(http.MethodPost, "/v1/authz/note/check", map[string]any{
		"operation": "read", "owner_id": "u-mgr", "client_owner_id": "u-adv", "hidden": true,
	}, tok)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(http.MethodPost, "/v1/authz/invoice/check", map[string]any{"operation": "read"}, tok)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(http.MethodPost, "/v1/authz/client/check", map[string]any{"operation": "fly"}, tok)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
