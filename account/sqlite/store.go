// SPDX-License-Identifier: MPL-2.0

// Package sqlite provides an account.Store backed by a SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/nextidentity/rp/account"
	"github.com/nextidentity/rp/account/sqlite/migrations"
	"github.com/nextidentity/rp/oidc"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const accountColumns = `id, username, email, display_name, given_name, family_name, role,
	password_hash, external_subject, access_token, refresh_token, id_token,
	token_expires_at, claims_json, avatar_url, created_at, updated_at`

// Store persists accounts in SQLite.  Usernames and emails are unique case
// insensitively; external subjects are unique exactly.
type Store struct {
	db     *sql.DB
	logger hclog.Logger
}

var _ account.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies the
// bundled migrations.
// Supported options:
//
//	WithLogger
//	WithBusyTimeout
func Open(ctx context.Context, path string, opt ...Option) (*Store, error) {
	const op = "sqlite.Open"
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%s: path is empty: %w", op, account.ErrInvalidParameter)
	}
	opts := getOpts(opt...)
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)",
		filepath.Clean(path), opts.withBusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: open sqlite db: %w", op, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: ping sqlite db: %w", op, err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: run migrations: %w", op, err)
	}
	return &Store{db: db, logger: opts.withLogger.Named("account-store")}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get implements account.Store.
func (s *Store) Get(ctx context.Context, id string) (*account.LocalAccount, error) {
	const op = "sqlite.(Store).Get"
	return s.queryOne(ctx, op, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
}

// FindBySubject implements account.Store.
func (s *Store) FindBySubject(ctx context.Context, subject string) (*account.LocalAccount, error) {
	const op = "sqlite.(Store).FindBySubject"
	if subject == "" {
		return nil, fmt.Errorf("%s: subject is empty: %w", op, account.ErrInvalidParameter)
	}
	return s.queryOne(ctx, op, `SELECT `+accountColumns+` FROM accounts WHERE external_subject = ?`, subject)
}

// FindByEmail implements account.Store.
func (s *Store) FindByEmail(ctx context.Context, email string) (*account.LocalAccount, error) {
	const op = "sqlite.(Store).FindByEmail"
	if email == "" {
		return nil, fmt.Errorf("%s: email is empty: %w", op, account.ErrInvalidParameter)
	}
	return s.queryOne(ctx, op, `SELECT `+accountColumns+` FROM accounts WHERE email = ?`, email)
}

// UsernameExists implements account.Store.
func (s *Store) UsernameExists(ctx context.Context, username string) (bool, error) {
	const op = "sqlite.(Store).UsernameExists"
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts WHERE username = ?`, username).Scan(&n); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}

// Create implements account.Store.
func (s *Store) Create(ctx context.Context, a *account.LocalAccount) error {
	const op = "sqlite.(Store).Create"
	if a == nil {
		return fmt.Errorf("%s: account is nil: %w", op, account.ErrNilParameter)
	}
	if a.ID == "" || a.Username == "" {
		return fmt.Errorf("%s: id and username are required: %w", op, account.ErrInvalidParameter)
	}
	r, err := toRow(a)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO accounts (`+accountColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.id, r.username, r.email, r.displayName, r.givenName, r.familyName, r.role,
		r.passwordHash, r.externalSubject, r.accessToken, r.refreshToken, r.idToken,
		r.tokenExpiresAt, r.claimsJSON, r.avatarURL, r.createdAt, r.updatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %s: %w", op, err, account.ErrDuplicate)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Update implements account.Store.  CreatedAt is never changed.
func (s *Store) Update(ctx context.Context, a *account.LocalAccount) error {
	const op = "sqlite.(Store).Update"
	if a == nil {
		return fmt.Errorf("%s: account is nil: %w", op, account.ErrNilParameter)
	}
	r, err := toRow(a)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE accounts SET
	username = ?, email = ?, display_name = ?, given_name = ?, family_name = ?, role = ?,
	password_hash = ?, external_subject = ?, access_token = ?, refresh_token = ?, id_token = ?,
	token_expires_at = ?, claims_json = ?, avatar_url = ?, updated_at = ?
WHERE id = ?`,
		r.username, r.email, r.displayName, r.givenName, r.familyName, r.role,
		r.passwordHash, r.externalSubject, r.accessToken, r.refreshToken, r.idToken,
		r.tokenExpiresAt, r.claimsJSON, r.avatarURL, r.updatedAt,
		r.id,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %s: %w", op, err, account.ErrDuplicate)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %q: %w", op, a.ID, account.ErrNotFound)
	}
	return nil
}

func (s *Store) queryOne(ctx context.Context, op, query string, arg string) (*account.LocalAccount, error) {
	var r row
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&r.id, &r.username, &r.email, &r.displayName, &r.givenName, &r.familyName, &r.role,
		&r.passwordHash, &r.externalSubject, &r.accessToken, &r.refreshToken, &r.idToken,
		&r.tokenExpiresAt, &r.claimsJSON, &r.avatarURL, &r.createdAt, &r.updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, account.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	a, err := r.toAccount()
	if err != nil {
		s.logger.Error("unable to decode account row", "account_id", r.id, "error", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return a, nil
}

// row mirrors the accounts table.  Token values are stored as plain columns
// since the token types redact themselves when marshaled.
type row struct {
	id              string
	username        string
	email           sql.NullString
	displayName     string
	givenName       string
	familyName      string
	role            string
	passwordHash    []byte
	externalSubject sql.NullString
	accessToken     sql.NullString
	refreshToken    sql.NullString
	idToken         sql.NullString
	tokenExpiresAt  sql.NullInt64
	claimsJSON      sql.NullString
	avatarURL       string
	createdAt       int64
	updatedAt       int64
}

func toRow(a *account.LocalAccount) (row, error) {
	r := row{
		id:              a.ID,
		username:        a.Username,
		email:           nullString(a.Email),
		displayName:     a.DisplayName,
		givenName:       a.GivenName,
		familyName:      a.FamilyName,
		role:            a.Role,
		passwordHash:    a.PasswordHash,
		externalSubject: nullString(a.ExternalSubject),
		avatarURL:       a.AvatarURL,
		createdAt:       toMillis(a.CreatedAt),
		updatedAt:       toMillis(a.UpdatedAt),
	}
	if t := a.Tokens; t != nil {
		r.accessToken = sql.NullString{String: string(t.AccessToken), Valid: true}
		r.refreshToken = nullString(string(t.RefreshToken))
		r.idToken = nullString(string(t.IDToken))
		if !t.ExpiresAt.IsZero() {
			r.tokenExpiresAt = sql.NullInt64{Int64: toMillis(t.ExpiresAt), Valid: true}
		}
	}
	if a.Claims != nil {
		b, err := json.Marshal(a.Claims)
		if err != nil {
			return row{}, fmt.Errorf("unable to encode claims: %w", err)
		}
		r.claimsJSON = sql.NullString{String: string(b), Valid: true}
	}
	return r, nil
}

func (r row) toAccount() (*account.LocalAccount, error) {
	a := &account.LocalAccount{
		ID:              r.id,
		Username:        r.username,
		Email:           r.email.String,
		DisplayName:     r.displayName,
		GivenName:       r.givenName,
		FamilyName:      r.familyName,
		Role:            r.role,
		PasswordHash:    r.passwordHash,
		ExternalSubject: r.externalSubject.String,
		AvatarURL:       r.avatarURL,
		CreatedAt:       fromMillis(r.createdAt),
		UpdatedAt:       fromMillis(r.updatedAt),
	}
	if r.accessToken.Valid {
		a.Tokens = &oidc.TokenSet{
			AccessToken:  oidc.AccessToken(r.accessToken.String),
			RefreshToken: oidc.RefreshToken(r.refreshToken.String),
			IDToken:      oidc.IDToken(r.idToken.String),
		}
		if r.tokenExpiresAt.Valid {
			a.Tokens.ExpiresAt = fromMillis(r.tokenExpiresAt.Int64)
		}
	}
	if r.claimsJSON.Valid {
		dec := json.NewDecoder(strings.NewReader(r.claimsJSON.String))
		dec.UseNumber()
		if err := dec.Decode(&a.Claims); err != nil {
			return nil, fmt.Errorf("unable to decode claims: %w", err)
		}
	}
	return a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
