package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	hderr "github.com/HelioDesk/heliodesk-auth/pkg/errors"
	"github.com/HelioDesk/heliodesk-auth/pkg/userstore"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// testSecretKey is a 32-byte HMAC key used across shared-secret tests.
const testSecretKey = "this-is-a-32-byte-test-signing-k"

// testIssuer is the issuer used by most test policies.
const testIssuer = "https://idp.example.com"

// authTestSignHMAC creates an HS256-signed JWT with the given claims.
func authTestSignHMAC(t *testing.T, key []byte, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	require.NoError(t, err, "failed to sign HMAC token")
	return tokenStr
}

// authTestRSAKey generates a 2048-bit RSA key pair for testing.
func authTestRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "failed to generate RSA key pair")
	return privKey
}

// authTestSignRSA creates an RS256-signed JWT with the given claims and kid.
// An empty kid leaves the header without a kid entry.
func authTestSignRSA(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	tokenStr, err := token.SignedString(key)
	require.NoError(t, err, "failed to sign RSA token")
	return tokenStr
}

// authTestECDSAKey generates a P-256 ECDSA key pair for testing.
func authTestECDSAKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	privKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err, "failed to generate ECDSA key pair")
	return privKey
}

// rsaJWK converts an RSA public key to its JWK form.
func rsaJWK(kid string, pub *rsa.PublicKey) JWK {
	return JWK{
		Kty: "RSA",
		Kid: kid,
		Alg: "RS256",
		Use: "sig",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

// ecJWK converts a P-256 ECDSA public key to its JWK form.
func ecJWK(kid string, pub *ecdsa.PublicKey) JWK {
	return JWK{
		Kty: "EC",
		Kid: kid,
		Crv: "P-256",
		Use: "sig",
		X:   base64.RawURLEncoding.EncodeToString(pub.X.Bytes()),
		Y:   base64.RawURLEncoding.EncodeToString(pub.Y.Bytes()),
	}
}

// authTestServeJWKS starts an httptest.Server serving the given keys as a
// JWKS document and counting fetches.
func authTestServeJWKS(t *testing.T, keys ...JWK) (*httptest.Server, *atomic.Int64) {
	t.Helper()

	doc, err := json.Marshal(jwksDocument{Keys: keys})
	require.NoError(t, err, "failed to marshal JWKS")

	var fetches atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(doc)
	}))
	t.Cleanup(srv.Close)
	return srv, &fetches
}

// authTestServeDiscovery starts an httptest.Server serving an OIDC
// discovery document pointing at jwksURL.
func authTestServeDiscovery(t *testing.T, jwksURL string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":   testIssuer,
			"jwks_uri": jwksURL,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// newJWKSPolicy returns an enabled JWKS policy pointing at the given
// endpoint.
func newJWKSPolicy(jwksURL string) JWTPolicyConfig {
	cfg := DefaultPolicyConfig()
	cfg.Enabled = true
	cfg.ValidationMethod = ValidationJWKS
	cfg.Algorithm = "RS256"
	cfg.Issuer = testIssuer
	cfg.JWKSURI = jwksURL
	return cfg
}

// newSharedSecretPolicy returns an enabled shared-secret policy with the
// test signing key.
func newSharedSecretPolicy() JWTPolicyConfig {
	cfg := DefaultPolicyConfig()
	cfg.Enabled = true
	cfg.ValidationMethod = ValidationSharedSecret
	cfg.Issuer = testIssuer
	cfg.SecretKey = Secret(testSecretKey)
	return cfg
}

// validClaims returns a claim set that passes the default test policies.
func validClaims(sub string) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   sub,
		"iss":   testIssuer,
		"email": sub + "@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"iat":   time.Now().Unix(),
	}
}

// ---------------------------------------------------------------------------
// fakeStore — in-memory userstore.Store for pipeline tests
// ---------------------------------------------------------------------------

// fakeStore is a mutex-guarded in-memory Store. CreateUser enforces email
// uniqueness the way the PostgreSQL unique constraint would, which lets
// tests exercise the concurrent-provisioning race.
type fakeStore struct {
	mu    sync.Mutex
	users map[uuid.UUID]*userstore.User
	links map[string]uuid.UUID

	// createDelay widens the provisioning race window in concurrency
	// tests.
	createDelay time.Duration

	createCalls atomic.Int64
	linkCalls   atomic.Int64

	// failLinks makes UpsertIdentityLink fail, for best-effort paths.
	failLinks bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users: make(map[uuid.UUID]*userstore.User),
		links: make(map[string]uuid.UUID),
	}
}

func (s *fakeStore) addUser(u *userstore.User) *userstore.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	s.users[u.ID] = u
	return u
}

func (s *fakeStore) addLink(subject string, userID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[subject] = userID
}

func (s *fakeStore) FindBySubject(_ context.Context, subject string) (*userstore.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.links[subject]; ok {
		if u, ok := s.users[id]; ok && u.Enabled {
			return u, nil
		}
	}
	return nil, hderr.New(hderr.CodeNotFoundUser, "userstore: no user for subject "+subject)
}

func (s *fakeStore) FindByEmail(_ context.Context, email string) (*userstore.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email && u.Enabled {
			return u, nil
		}
	}
	return nil, hderr.New(hderr.CodeNotFoundUser, "userstore: no user for email "+email)
}

func (s *fakeStore) FindByUsername(_ context.Context, username string) (*userstore.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username && u.Enabled {
			return u, nil
		}
	}
	return nil, hderr.New(hderr.CodeNotFoundUser, "userstore: no user for username "+username)
}

func (s *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*userstore.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return nil, hderr.New(hderr.CodeNotFoundUser, "userstore: no user for id "+id.String())
}

func (s *fakeStore) CreateUser(_ context.Context, user *userstore.User) error {
	s.createCalls.Add(1)
	if s.createDelay > 0 {
		time.Sleep(s.createDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == user.Email {
			return hderr.New(hderr.CodeConflictAlreadyExists, "userstore: user already exists")
		}
	}
	s.users[user.ID] = user
	return nil
}

func (s *fakeStore) AssignRoles(_ context.Context, userID uuid.UUID, roles []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return hderr.New(hderr.CodeNotFoundUser, "userstore: no user for id "+userID.String())
	}
	for _, role := range roles {
		found := false
		for _, have := range u.Roles {
			if have == role {
				found = true
				break
			}
		}
		if !found {
			u.Roles = append(u.Roles, role)
		}
	}
	return nil
}

func (s *fakeStore) UpsertIdentityLink(_ context.Context, subject string, userID uuid.UUID) error {
	s.linkCalls.Add(1)
	if s.failLinks {
		return hderr.New(hderr.CodeInternalDatabase, "userstore: link write failed")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[subject] = userID
	return nil
}

// Compile-time interface compliance check.
var _ userstore.Store = (*fakeStore)(nil)
