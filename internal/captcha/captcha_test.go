package captcha

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clientdesk.org/internal/security"
)

func siteverify(t *testing.T, body string, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "shh", r.PostForm.Get("secret"))
		assert.NotEmpty(t, r.PostForm.Get("response"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestRecaptchaVerify(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		status int
		score  float64
		want   bool
		err    bool
	}{
		{"success", `{"success":true}`, http.StatusOK, 0, true, false},
		{"rejected", `{"success":false,"error-codes":["invalid-input-response"]}`, http.StatusOK, 0, false, false},
		{"low score", `{"success":true,"score":0.2}`, http.StatusOK, 0.5, false, false},
		{"good score", `{"success":true,"score":0.9}`, http.StatusOK, 0.5, true, false},
		{"server error", `oops`, http.StatusBadGateway, 0, false, true},
		{"bad json", `{`, http.StatusOK, 0, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := siteverify(t, tc.body, tc.status)
			v, err := NewRecaptchaVerifier("shh", WithVerifyURL(srv.URL), WithMinScore(tc.score), WithHTTPClient(srv.Client()))
			require.NoError(t, err)

			ok, err := v.Verify(context.Background(), "tok", security.TypeUserLogin)
			if tc.err {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tc.want, ok)
		})
	}
}

func TestRecaptchaEmptyTokenSkipsRemote(t *testing.T) {
	srv, hits := siteverify(t, `{"success":true}`, http.StatusOK)
	v, err := NewRecaptchaVerifier("shh", WithVerifyURL(srv.URL))
	require.NoError(t, err)

	ok, err := v.Verify(context.Background(), "  ", security.TypeUserEmail)
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, hits.Load())
}

func TestNewRecaptchaVerifierRequiresSecret(t *testing.T) {
	_, err := NewRecaptchaVerifier("")
	assert.ErrorIs(t, err, ErrMissingSecret)
}

type countingVerifier struct {
	ok    bool
	calls int
}

func (c *countingVerifier) Verify(context.Context, string, security.SecurityType) (bool, error) {
	c.calls++
	return c.ok, nil
}

func TestReplayGuardRejectsReuse(t *testing.T) {
	inner := &countingVerifier{ok: true}
	g, err := NewReplayGuard(inner, 2)
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := g.Verify(ctx, "a", security.TypeUserLogin)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.Verify(ctx, "a", security.TypeUserLogin)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, inner.calls, "replayed token never reaches the verifier")

	// Evicted digests are forgotten once the cache overflows.
	_, _ = g.Verify(ctx, "b", security.TypeUserLogin)
	_, _ = g.Verify(ctx, "c", security.TypeUserLogin)
	ok, _ = g.Verify(ctx, "a", security.TypeUserLogin)
	assert.True(t, ok)
}

func TestReplayGuardDoesNotRememberRejected(t *testing.T) {
	inner := &countingVerifier{ok: false}
	g, err := NewReplayGuard(inner, 0)
	require.NoError(t, err)

	ok, _ := g.Verify(context.Background(), "a", security.TypeUserLogin)
	assert.False(t, ok)
	inner.ok = true
	ok, _ = g.Verify(context.Background(), "a", security.TypeUserLogin)
	assert.True(t, ok)
}

func TestReplayGuardSatisfiesSecurityVerifier(t *testing.T) {
	var _ security.CaptchaVerifier = (*ReplayGuard)(nil)
	var _ security.CaptchaVerifier = (*RecaptchaVerifier)(nil)
}
