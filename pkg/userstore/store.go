// Package userstore provides the local user identity store for the HelioDesk
// authentication pipeline. It owns two durable concepts: user records (the
// canonical local identities) and identity links (the mapping from an external
// provider subject to a local user).
//
// The package exposes a [Store] interface so the authentication components can
// be tested against fakes, and a PostgreSQL implementation ([PostgresStore])
// built on the platform postgres client.
//
// # Identity Links
//
// An identity link relates exactly one provider subject to one local user.
// Links are created opportunistically during identity resolution and during
// auto-provisioning. A subject maps to at most one user at a time; writes use
// upsert semantics, so the most recent writer wins when a stale link is
// corrected.
package userstore

import (
	"context"

	"github.com/google/uuid"
)

// User is a local HelioDesk user record. Roles carry the user's assigned
// local role names; Enabled gates whether the account may authenticate.
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	FullName  string    `json:"full_name"`
	Enabled   bool      `json:"enabled"`
	Roles     []string  `json:"roles"`
}

// Store is the user-store contract consumed by the authentication pipeline.
//
// Lookup methods return a *hderr.Error with code [hderr.CodeNotFoundUser]
// when no matching record exists, and database-classified errors
// (CodeInternalDatabase, CodeTimeoutDatabase) on infrastructure failure.
// FindBySubject, FindByEmail, and FindByUsername are restricted to enabled
// users; GetByID returns the user regardless of enabled state so callers
// can distinguish "disabled" from "absent".
type Store interface {
	// FindBySubject returns the enabled user linked to the given provider
	// subject, following the identity link.
	FindBySubject(ctx context.Context, subject string) (*User, error)

	// FindByEmail returns the enabled user with the given email address.
	// Matching is case-sensitive against the stored value.
	FindByEmail(ctx context.Context, email string) (*User, error)

	// FindByUsername returns the enabled user with the given username.
	FindByUsername(ctx context.Context, username string) (*User, error)

	// GetByID returns the user with the given id, enabled or not.
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)

	// CreateUser inserts a new user record. Returns a *hderr.Error with
	// code [hderr.CodeConflictAlreadyExists] if a user with the same
	// email or username already exists.
	CreateUser(ctx context.Context, user *User) error

	// AssignRoles grants the given roles to the user. Roles the user
	// already holds are left unchanged.
	AssignRoles(ctx context.Context, userID uuid.UUID, roles []string) error

	// UpsertIdentityLink creates or updates the link from a provider
	// subject to a local user. An existing link for the subject is
	// repointed at the given user (last writer wins).
	UpsertIdentityLink(ctx context.Context, subject string, userID uuid.UUID) error
}
