package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/authgate/internal/auth"
	"github.com/iliyamo/authgate/internal/model"
)

type stubValidator struct {
	id    model.Identity
	err   error
	calls int
	seen  string
}

func (s *stubValidator) Validate(token string) (model.Identity, error) {
	s.calls++
	s.seen = token
	return s.id, s.err
}

func newRequest(header string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if header != "" {
		req.Header.Set(echo.HeaderAuthorization, header)
	}
	return req
}

func TestAuthorize(t *testing.T) {
	alice := model.Identity{ID: 1, Username: "alice"}

	tests := []struct {
		name      string
		header    string
		validator *stubValidator
		wantErr   error
		wantToken string
	}{
		{name: "missing header", header: "", validator: &stubValidator{}, wantErr: auth.ErrMissingCredential},
		{name: "blank header", header: "   ", validator: &stubValidator{}, wantErr: auth.ErrMissingCredential},
		{name: "wrong scheme", header: "Basic YWxpY2U6cHc=", validator: &stubValidator{}, wantErr: auth.ErrUnauthorized},
		{name: "scheme only", header: "Bearer", validator: &stubValidator{}, wantErr: auth.ErrUnauthorized},
		{name: "empty token", header: "Bearer    ", validator: &stubValidator{}, wantErr: auth.ErrUnauthorized},
		{name: "rejected token", header: "Bearer abc", validator: &stubValidator{err: auth.ErrTokenExpired}, wantErr: auth.ErrUnauthorized, wantToken: "abc"},
		{name: "valid", header: "Bearer abc.def.ghi", validator: &stubValidator{id: alice}, wantToken: "abc.def.ghi"},
		{name: "lowercase scheme", header: "bearer abc.def.ghi", validator: &stubValidator{id: alice}, wantToken: "abc.def.ghi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := Authorize(newRequest(tt.header), tt.validator)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, model.Identity{}, id)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, alice, id)
			assert.Equal(t, tt.wantToken, tt.validator.seen)
		})
	}
}

func TestAuthorize_KeepsValidateCause(t *testing.T) {
	_, err := Authorize(newRequest("Bearer abc"), &stubValidator{err: auth.ErrTokenExpired})
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
	assert.ErrorIs(t, err, auth.ErrTokenExpired)
}

func TestAuthorize_MissingHeaderSkipsValidation(t *testing.T) {
	v := &stubValidator{}
	_, err := Authorize(newRequest(""), v)
	require.Error(t, err)
	assert.Zero(t, v.calls)
}

func serveGuarded(t *testing.T, v TokenValidator, header string) (*httptest.ResponseRecorder, *model.Identity) {
	t.Helper()
	e := echo.New()
	var seen *model.Identity
	e.GET("/protected", func(c echo.Context) error {
		id, ok := IdentityFrom(c)
		require.True(t, ok)
		seen = &id
		return c.NoContent(http.StatusOK)
	}, JWTAuth(v, zap.NewNop()))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, newRequest(header))
	return rec, seen
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestJWTAuth(t *testing.T) {
	t.Run("missing header is 400", func(t *testing.T) {
		rec, seen := serveGuarded(t, &stubValidator{}, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Authorization header missing", errorBody(t, rec))
		assert.Nil(t, seen)
	})

	t.Run("rejected token is 401", func(t *testing.T) {
		rec, seen := serveGuarded(t, &stubValidator{err: errors.New("bad signature")}, "Bearer x.y.z")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Unauthorized", errorBody(t, rec))
		assert.Nil(t, seen)
	})

	t.Run("malformed header is 401", func(t *testing.T) {
		rec, _ := serveGuarded(t, &stubValidator{}, "Token x.y.z")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token reaches handler", func(t *testing.T) {
		rec, seen := serveGuarded(t, &stubValidator{id: model.Identity{ID: 9, Username: "bob"}}, "Bearer x.y.z")
		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, seen)
		assert.Equal(t, uint64(9), seen.ID)
	})
}

func TestJWTAuth_RealTokens(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	tokens, err := auth.NewTokenService("secret", "authgate", time.Minute, auth.WithClock(clock))
	require.NoError(t, err)

	token, err := tokens.Issue(3, "carol")
	require.NoError(t, err)

	rec, seen := serveGuarded(t, tokens, "Bearer "+token)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, model.Identity{ID: 3, Username: "carol"}, *seen)

	now = now.Add(time.Minute)
	rec, _ = serveGuarded(t, tokens, "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
