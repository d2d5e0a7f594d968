package auth

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hderr "github.com/HelioDesk/heliodesk-auth/pkg/errors"
	"github.com/HelioDesk/heliodesk-auth/pkg/userstore"
)

func TestSessionEstablisher_EnabledUser(t *testing.T) {
	t.Parallel()

	user := &userstore.User{
		ID:      uuid.New(),
		Email:   "jane@example.com",
		Enabled: true,
		Roles:   []string{"agent"},
	}
	claims := mapperClaims("idp|abc", "jane@example.com", "")

	ac, err := NewSessionEstablisher(nil).Establish(context.Background(), user, claims)
	require.NoError(t, err)
	assert.Equal(t, user.ID, ac.UserID)
	assert.Equal(t, "jane@example.com", ac.Email)
	assert.Equal(t, []string{"agent"}, ac.Roles)
	assert.Equal(t, MethodJWT, ac.Method)
	assert.Same(t, claims, ac.Claims)
}

func TestSessionEstablisher_DisabledUser(t *testing.T) {
	t.Parallel()

	user := &userstore.User{ID: uuid.New(), Email: "jane@example.com", Enabled: false}

	ac, err := NewSessionEstablisher(nil).Establish(context.Background(), user, nil)
	assert.Nil(t, ac)
	require.Error(t, err)
	assert.True(t, hderr.HasCode(err, hderr.CodeAuthorizationAccountDisabled))
}

func TestAuthContext_HasRole(t *testing.T) {
	t.Parallel()

	ac := &AuthContext{Roles: []string{"agent", "admin"}}
	assert.True(t, ac.HasRole("admin"))
	assert.False(t, ac.HasRole("viewer"))
}

func TestContextWithAuth_RoundTrip(t *testing.T) {
	t.Parallel()

	ac := &AuthContext{UserID: uuid.New(), Method: MethodJWT}
	ctx := ContextWithAuth(context.Background(), ac)

	got, ok := AuthFromContext(ctx)
	require.True(t, ok)
	assert.Same(t, ac, got)
}

func TestAuthFromContext_Missing(t *testing.T) {
	t.Parallel()

	_, ok := AuthFromContext(context.Background())
	assert.False(t, ok)
}
