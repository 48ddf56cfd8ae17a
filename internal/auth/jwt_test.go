// internal/auth/jwt_test.go
package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUserID(t *testing.T) {
	verifier := NewVerifier("test-secret")
	now := time.Now().UTC()

	t.Run("Valid", func(t *testing.T) {
		token, err := IssueToken("test-secret", 42, now, time.Hour)
		require.NoError(t, err)

		userID, err := verifier.ParseUserID(token)
		require.NoError(t, err)
		assert.Equal(t, int64(42), userID)
	})

	t.Run("WrongSecret", func(t *testing.T) {
		token, err := IssueToken("other-secret", 42, now, time.Hour)
		require.NoError(t, err)

		_, err = verifier.ParseUserID(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("Expired", func(t *testing.T) {
		token, err := IssueToken("test-secret", 42, now.Add(-2*time.Hour), time.Hour)
		require.NoError(t, err)

		_, err = verifier.ParseUserID(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("NonNumericSubject", func(t *testing.T) {
		claims := jwt.MapClaims{"sub": "player-1", "exp": now.Add(time.Hour).Unix()}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
		require.NoError(t, err)

		_, err = verifier.ParseUserID(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("UnsignedToken", func(t *testing.T) {
		claims := jwt.MapClaims{"sub": "42", "exp": now.Add(time.Hour).Unix()}
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = verifier.ParseUserID(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestMiddleware(t *testing.T) {
	verifier := NewVerifier("test-secret")
	var seen int64
	handler := Middleware(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	token, err := IssueToken("test-secret", 7, time.Now(), time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
		userID int64
	}{
		{"Valid", "Bearer " + token, http.StatusNoContent, 7},
		{"Missing", "", http.StatusUnauthorized, 0},
		{"WrongScheme", "Basic " + token, http.StatusUnauthorized, 0},
		{"Garbage", "Bearer not-a-token", http.StatusUnauthorized, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			seen = 0
			req := httptest.NewRequest(http.MethodGet, "/balance", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.userID, seen)
			if tc.status == http.StatusUnauthorized {
				assert.Contains(t, rec.Body.String(), `"code":"unauthorized"`)
			}
		})
	}
}
