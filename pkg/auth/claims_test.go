package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
)

func TestNewDecodedClaims_StandardClaims(t *testing.T) {
	t.Parallel()

	exp := time.Now().Add(time.Hour).Unix()
	iat := time.Now().Unix()
	dc := newDecodedClaims(jwt.MapClaims{
		"sub":                "idp|abc",
		"iss":                testIssuer,
		"email":              "jane@example.com",
		"name":               "Jane Doe",
		"given_name":         "Jane",
		"family_name":        "Doe",
		"preferred_username": "jdoe",
		"exp":                float64(exp),
		"iat":                float64(iat),
	})

	assert.Equal(t, "idp|abc", dc.Subject)
	assert.Equal(t, testIssuer, dc.Issuer)
	assert.Equal(t, "jane@example.com", dc.Email)
	assert.Equal(t, "Jane Doe", dc.Name)
	assert.Equal(t, "Jane", dc.GivenName)
	assert.Equal(t, "Doe", dc.FamilyName)
	assert.Equal(t, "jdoe", dc.PreferredUsername)
	assert.Equal(t, exp, dc.ExpiresAt.Unix())
	assert.Equal(t, iat, dc.IssuedAt.Unix())
}

func TestNewDecodedClaims_AudienceString(t *testing.T) {
	t.Parallel()
	dc := newDecodedClaims(jwt.MapClaims{"aud": "helpdesk-api"})
	assert.Equal(t, []string{"helpdesk-api"}, dc.Audience)
	assert.True(t, dc.HasAudience("helpdesk-api"))
}

func TestNewDecodedClaims_AudienceList(t *testing.T) {
	t.Parallel()
	dc := newDecodedClaims(jwt.MapClaims{"aud": []any{"helpdesk-api", "reporting-api"}})
	assert.Equal(t, []string{"helpdesk-api", "reporting-api"}, dc.Audience)
	assert.True(t, dc.HasAudience("reporting-api"))
	assert.False(t, dc.HasAudience("billing-api"))
}

func TestNewDecodedClaims_ScopeString(t *testing.T) {
	t.Parallel()
	dc := newDecodedClaims(jwt.MapClaims{"scope": "openid profile tickets:read"})
	assert.Equal(t, []string{"openid", "profile", "tickets:read"}, dc.Scopes)
	assert.True(t, dc.HasScope("tickets:read"))
	assert.False(t, dc.HasScope("tickets:write"))
}

func TestNewDecodedClaims_ScpList(t *testing.T) {
	t.Parallel()
	dc := newDecodedClaims(jwt.MapClaims{"scp": []any{"openid", "profile"}})
	assert.Equal(t, []string{"openid", "profile"}, dc.Scopes)
}

func TestNewDecodedClaims_ScopeAndScpMerged(t *testing.T) {
	t.Parallel()
	dc := newDecodedClaims(jwt.MapClaims{
		"scope": "openid profile",
		"scp":   []any{"profile", "email"},
	})
	assert.Equal(t, []string{"openid", "profile", "email"}, dc.Scopes)
}

func TestNewDecodedClaims_Roles(t *testing.T) {
	t.Parallel()

	dc := newDecodedClaims(jwt.MapClaims{"roles": []any{"admin", "agent"}})
	assert.Equal(t, []string{"admin", "agent"}, dc.Roles)
	assert.True(t, dc.HasRole("admin"))

	dc = newDecodedClaims(jwt.MapClaims{"role": "agent"})
	assert.Equal(t, []string{"agent"}, dc.Roles)
}

func TestNewDecodedClaims_MissingClaimsAreEmpty(t *testing.T) {
	t.Parallel()
	dc := newDecodedClaims(jwt.MapClaims{"sub": "idp|abc"})
	assert.Empty(t, dc.Email)
	assert.Empty(t, dc.Audience)
	assert.Empty(t, dc.Scopes)
	assert.Empty(t, dc.Roles)
	assert.True(t, dc.ExpiresAt.IsZero())
}

func TestNewDecodedClaims_RawPreservesEverything(t *testing.T) {
	t.Parallel()
	dc := newDecodedClaims(jwt.MapClaims{
		"sub":        "idp|abc",
		"department": "support",
		"level":      float64(3),
	})
	assert.Equal(t, "support", dc.Raw["department"])
	assert.Equal(t, float64(3), dc.Raw["level"])
}
