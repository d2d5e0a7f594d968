package userstore

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/HelioDesk/heliodesk-auth/pkg/clients/postgres"
	hderr "github.com/HelioDesk/heliodesk-auth/pkg/errors"
)

// uniqueViolation is the PostgreSQL error code for unique constraint
// violations (SQLSTATE 23505).
const uniqueViolation = "23505"

// PostgresStore is the PostgreSQL implementation of [Store], built on the
// platform postgres client. It expects the users, user_roles, and
// identity_links tables described in the package schema.
type PostgresStore struct {
	db *postgres.Client
}

// NewPostgresStore creates a PostgresStore backed by the given client.
func NewPostgresStore(db *postgres.Client) *PostgresStore {
	return &PostgresStore{db: db}
}

// Compile-time interface compliance check.
var _ Store = (*PostgresStore)(nil)

const userColumns = "id, email, username, first_name, last_name, full_name, enabled"

// FindBySubject returns the enabled user linked to the given provider subject.
func (s *PostgresStore) FindBySubject(ctx context.Context, subject string) (*User, error) {
	row := s.db.QueryRow(ctx, `
		SELECT u.id, u.email, u.username, u.first_name, u.last_name, u.full_name, u.enabled
		FROM users u
		JOIN identity_links l ON l.user_id = u.id
		WHERE l.subject = $1 AND u.enabled`, subject)
	return s.scanUser(ctx, row, "subject "+subject)
}

// FindByEmail returns the enabled user with the given email address.
func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email = $1 AND enabled`, email)
	return s.scanUser(ctx, row, "email "+email)
}

// FindByUsername returns the enabled user with the given username.
func (s *PostgresStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE username = $1 AND enabled`, username)
	return s.scanUser(ctx, row, "username "+username)
}

// GetByID returns the user with the given id regardless of enabled state.
func (s *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1`, id)
	return s.scanUser(ctx, row, "id "+id.String())
}

// CreateUser inserts a new user record and its role assignments.
func (s *PostgresStore) CreateUser(ctx context.Context, user *User) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO users (id, email, username, first_name, last_name, full_name, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		user.ID, user.Email, user.Username, user.FirstName, user.LastName,
		user.FullName, user.Enabled)
	if err != nil {
		if isUniqueViolation(err) {
			return hderr.Wrap(err, hderr.CodeConflictAlreadyExists,
				"userstore: user already exists")
		}
		return err
	}
	if len(user.Roles) > 0 {
		return s.AssignRoles(ctx, user.ID, user.Roles)
	}
	return nil
}

// AssignRoles grants the given roles to the user, skipping any it already holds.
func (s *PostgresStore) AssignRoles(ctx context.Context, userID uuid.UUID, roles []string) error {
	for _, role := range roles {
		_, err := s.db.Exec(ctx, `
			INSERT INTO user_roles (user_id, role)
			VALUES ($1, $2)
			ON CONFLICT (user_id, role) DO NOTHING`, userID, role)
		if err != nil {
			return err
		}
	}
	return nil
}

// UpsertIdentityLink creates or repoints the link for a provider subject.
func (s *PostgresStore) UpsertIdentityLink(ctx context.Context, subject string, userID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO identity_links (subject, user_id, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (subject) DO UPDATE
		SET user_id = EXCLUDED.user_id, updated_at = now()`, subject, userID)
	return err
}

// scanUser scans a single user row and loads its roles. The desc string
// identifies the lookup in not-found error details.
func (s *PostgresStore) scanUser(ctx context.Context, row pgx.Row, desc string) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.FirstName, &u.LastName,
		&u.FullName, &u.Enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, hderr.New(hderr.CodeNotFoundUser,
			"userstore: no user for "+desc)
	}
	if err != nil {
		return nil, hderr.Wrap(err, hderr.CodeInternalDatabase,
			"userstore: user lookup failed")
	}

	roles, err := s.loadRoles(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	u.Roles = roles
	return &u, nil
}

func (s *PostgresStore) loadRoles(ctx context.Context, userID uuid.UUID) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT role FROM user_roles WHERE user_id = $1 ORDER BY role`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, hderr.Wrap(err, hderr.CodeInternalDatabase,
				"userstore: role scan failed")
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, hderr.Wrap(err, hderr.CodeInternalDatabase,
			"userstore: role iteration failed")
	}
	return roles, nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation, unwrapping through platform error wrappers.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
