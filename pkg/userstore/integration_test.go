//go:build integration

// Package userstore_test contains integration tests for the PostgreSQL
// user store that require a running PostgreSQL instance. These tests are
// gated behind the "integration" build tag and are executed in CI with
// Docker via testcontainers.
//
// Run locally with:
//
//	go test -v -race -tags=integration ./pkg/userstore/...
package userstore_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/HelioDesk/heliodesk-auth/internal/testutil"
	"github.com/HelioDesk/heliodesk-auth/internal/testutil/containers"
	"github.com/HelioDesk/heliodesk-auth/pkg/clients/postgres"
	hderr "github.com/HelioDesk/heliodesk-auth/pkg/errors"
	"github.com/HelioDesk/heliodesk-auth/pkg/userstore"
)

// schema is the minimal identity schema exercised by the store.
const schema = `
CREATE TABLE users (
	id         UUID PRIMARY KEY,
	email      TEXT NOT NULL UNIQUE,
	username   TEXT NOT NULL DEFAULT '',
	first_name TEXT NOT NULL DEFAULT '',
	last_name  TEXT NOT NULL DEFAULT '',
	full_name  TEXT NOT NULL DEFAULT '',
	enabled    BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE user_roles (
	user_id UUID NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	role    TEXT NOT NULL,
	PRIMARY KEY (user_id, role)
);

CREATE TABLE identity_links (
	subject    TEXT PRIMARY KEY,
	user_id    UUID NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// UserStoreIntegrationSuite runs all user store integration tests against
// a single shared container. The schema is created once in SetupSuite and
// the tables are truncated before each test for isolation.
type UserStoreIntegrationSuite struct {
	suite.Suite

	ctx      context.Context
	pgResult *containers.PostgresResult
	client   *postgres.Client
	store    *userstore.PostgresStore
}

func (s *UserStoreIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	result, err := containers.StartPostgres(s.ctx)
	s.Require().NoError(err, "failed to start postgres container")
	s.pgResult = result

	client, err := postgres.NewClient(s.ctx, postgres.Config{
		URI:      result.ConnString,
		MaxConns: 5,
	})
	s.Require().NoError(err, "failed to connect")
	s.client = client

	_, err = client.Exec(s.ctx, schema)
	s.Require().NoError(err, "failed to create schema")

	s.store = userstore.NewPostgresStore(client)
}

func (s *UserStoreIntegrationSuite) TearDownSuite() {
	if s.client != nil {
		s.client.Close()
	}
	if s.pgResult != nil {
		_ = s.pgResult.Container.Terminate(s.ctx)
	}
}

func (s *UserStoreIntegrationSuite) SetupTest() {
	_, err := s.client.Exec(s.ctx,
		`TRUNCATE identity_links, user_roles, users`)
	s.Require().NoError(err, "failed to truncate tables")
}

func (s *UserStoreIntegrationSuite) newUser(email string, enabled bool, roles ...string) *userstore.User {
	return &userstore.User{
		ID:       uuid.New(),
		Email:    email,
		Username: email,
		FullName: "Test User",
		Enabled:  enabled,
		Roles:    roles,
	}
}

func (s *UserStoreIntegrationSuite) TestCreateAndFindByEmail() {
	user := s.newUser("jane@example.com", true, "agent", "admin")
	s.Require().NoError(s.store.CreateUser(s.ctx, user))

	got, err := s.store.FindByEmail(s.ctx, "jane@example.com")
	s.Require().NoError(err)
	s.Equal(user.ID, got.ID)
	s.Equal([]string{"admin", "agent"}, got.Roles)
}

func (s *UserStoreIntegrationSuite) TestCreateUser_DuplicateEmailConflicts() {
	s.Require().NoError(s.store.CreateUser(s.ctx, s.newUser("jane@example.com", true)))

	err := s.store.CreateUser(s.ctx, s.newUser("jane@example.com", true))
	testutil.RequireErrorCode(s.T(), err, hderr.CodeConflictAlreadyExists)
}

func (s *UserStoreIntegrationSuite) TestFindBySubject_ThroughLink() {
	user := s.newUser("jane@example.com", true)
	s.Require().NoError(s.store.CreateUser(s.ctx, user))
	s.Require().NoError(s.store.UpsertIdentityLink(s.ctx, "idp|abc", user.ID))

	got, err := s.store.FindBySubject(s.ctx, "idp|abc")
	s.Require().NoError(err)
	s.Equal(user.ID, got.ID)
}

func (s *UserStoreIntegrationSuite) TestFindBySubject_NotFound() {
	_, err := s.store.FindBySubject(s.ctx, "idp|ghost")
	testutil.RequireErrorCode(s.T(), err, hderr.CodeNotFoundUser)
}

func (s *UserStoreIntegrationSuite) TestUpsertIdentityLink_Repoints() {
	first := s.newUser("first@example.com", true)
	second := s.newUser("second@example.com", true)
	s.Require().NoError(s.store.CreateUser(s.ctx, first))
	s.Require().NoError(s.store.CreateUser(s.ctx, second))

	s.Require().NoError(s.store.UpsertIdentityLink(s.ctx, "idp|abc", first.ID))
	s.Require().NoError(s.store.UpsertIdentityLink(s.ctx, "idp|abc", second.ID))

	got, err := s.store.FindBySubject(s.ctx, "idp|abc")
	s.Require().NoError(err)
	s.Equal(second.ID, got.ID, "the link must follow the last writer")
}

func (s *UserStoreIntegrationSuite) TestEnabledOnlyLookups() {
	user := s.newUser("jane@example.com", false)
	s.Require().NoError(s.store.CreateUser(s.ctx, user))
	s.Require().NoError(s.store.UpsertIdentityLink(s.ctx, "idp|abc", user.ID))

	_, err := s.store.FindByEmail(s.ctx, "jane@example.com")
	testutil.RequireErrorCode(s.T(), err, hderr.CodeNotFoundUser)
	_, err = s.store.FindBySubject(s.ctx, "idp|abc")
	testutil.RequireErrorCode(s.T(), err, hderr.CodeNotFoundUser)

	// GetByID still returns the record so callers can inspect its state.
	got, err := s.store.GetByID(s.ctx, user.ID)
	s.Require().NoError(err)
	s.False(got.Enabled)
}

func (s *UserStoreIntegrationSuite) TestAssignRoles_Idempotent() {
	user := s.newUser("jane@example.com", true, "agent")
	s.Require().NoError(s.store.CreateUser(s.ctx, user))

	s.Require().NoError(s.store.AssignRoles(s.ctx, user.ID, []string{"agent", "admin"}))

	got, err := s.store.GetByID(s.ctx, user.ID)
	s.Require().NoError(err)
	s.Equal([]string{"admin", "agent"}, got.Roles)
}

func TestUserStoreIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}
	suite.Run(t, new(UserStoreIntegrationSuite))
}
