package service

import (
	"testing"
	"time"

	"github.com/nemwellington/vendanozap/internal/model"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret, sub string, ttl time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": sub,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(ttl).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestParseWorkspace(t *testing.T) {
	tests := []struct {
		namespace string
		want      int64
		wantErr   bool
	}{
		{"workspace-1", 1, false},
		{"workspace-42", 42, false},
		{"workspace-123456", 123456, false},
		{"workspace-", 0, true},
		{"workspace-abc", 0, true},
		{"workspace-12x", 0, true},
		{"workspace--1", 0, true},
		{"workspace-1 ", 0, true},
		{"workspace", 0, true},
		{"company-1", 0, true},
		{"", 0, true},
		{"workspace-99999999999999999999", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.namespace, func(t *testing.T) {
			got, err := ParseWorkspace(tt.namespace)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthorizeConnection(t *testing.T) {
	userID := "7f6e4bb0-51a4-4b78-9e6e-0a31f1c2fd5e"
	ac := NewAccessController(testSecret, []string{"http://localhost:3000"})

	t.Run("valid", func(t *testing.T) {
		token := signToken(t, testSecret, userID, time.Hour)
		identity, err := ac.AuthorizeConnection("workspace-7", token, "http://localhost:3000", "1.2.3.4")
		require.NoError(t, err)
		assert.Equal(t, userID, identity.UserID)
		assert.Equal(t, int64(7), identity.TenantID)
	})

	t.Run("no origin header is allowed", func(t *testing.T) {
		token := signToken(t, testSecret, userID, time.Hour)
		_, err := ac.AuthorizeConnection("workspace-7", token, "", "1.2.3.4")
		assert.NoError(t, err)
	})

	t.Run("non-numeric tenant segment always fails", func(t *testing.T) {
		token := signToken(t, testSecret, userID, time.Hour)
		_, err := ac.AuthorizeConnection("workspace-seven", token, "http://localhost:3000", "1.2.3.4")
		var authErr *AuthorizationError
		assert.ErrorAs(t, err, &authErr)
	})

	t.Run("unlisted origin", func(t *testing.T) {
		token := signToken(t, testSecret, userID, time.Hour)
		_, err := ac.AuthorizeConnection("workspace-7", token, "https://evil.example", "1.2.3.4")
		var authErr *AuthorizationError
		assert.ErrorAs(t, err, &authErr)
	})

	t.Run("missing token", func(t *testing.T) {
		_, err := ac.AuthorizeConnection("workspace-7", "", "http://localhost:3000", "1.2.3.4")
		assert.Error(t, err)
	})

	t.Run("expired token", func(t *testing.T) {
		token := signToken(t, testSecret, userID, -time.Hour)
		_, err := ac.AuthorizeConnection("workspace-7", token, "http://localhost:3000", "1.2.3.4")
		assert.Error(t, err)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token := signToken(t, "other-secret", userID, time.Hour)
		_, err := ac.AuthorizeConnection("workspace-7", token, "http://localhost:3000", "1.2.3.4")
		assert.Error(t, err)
	})

	t.Run("structurally invalid subject", func(t *testing.T) {
		token := signToken(t, testSecret, "not-a-uuid", time.Hour)
		_, err := ac.AuthorizeConnection("workspace-7", token, "http://localhost:3000", "1.2.3.4")
		assert.Error(t, err)
	})
}

func TestAuthorizeJoin(t *testing.T) {
	ac := NewAccessController(testSecret, nil)
	identity := &model.Identity{UserID: "7f6e4bb0-51a4-4b78-9e6e-0a31f1c2fd5e", TenantID: 7}

	tests := []struct {
		name    string
		kind    model.RoomKind
		roomKey string
		wantErr bool
	}{
		{"well-formed ticket id", model.RoomTicketThread, "3e0c4f6e-8a16-4f05-9dc9-1d9c3a1b2c4d", false},
		{"nonexistent but well-formed ticket id", model.RoomTicketThread, "00000000-0000-0000-0000-000000000001", false},
		{"malformed ticket id", model.RoomTicketThread, "123", true},
		{"empty ticket id", model.RoomTicketThread, "", true},
		{"status open", model.RoomStatusChannel, "open", false},
		{"status closed", model.RoomStatusChannel, "closed", false},
		{"status pending", model.RoomStatusChannel, "pending", false},
		{"status nps is not a channel", model.RoomStatusChannel, "nps", true},
		{"bogus status", model.RoomStatusChannel, "everything", true},
		{"notification channel", model.RoomNotificationChannel, "", false},
		{"unknown kind", model.RoomKind("presence"), "x", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ac.AuthorizeJoin(identity, tt.kind, tt.roomKey)
			if tt.wantErr {
				var validationErr *ValidationError
				assert.ErrorAs(t, err, &validationErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
