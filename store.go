package interpersonal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/eringen/interpersonal/indieauth"
)

// SettingOwnerProfile is the AppSettings key that overrides owner_profile.
const SettingOwnerProfile = "owner_profile"

const timeLayout = time.RFC3339Nano

// Store wraps the SQLite database holding authorization codes, bearer
// tokens and application settings.
type Store struct {
	db *sql.DB
}

var _ indieauth.Store = (*Store)(nil)

// NewStore opens (or creates) the SQLite database at path, ensures the data
// directory exists, and creates the schema.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	// Pragmas go in the DSN so that every pooled connection gets them.
	// Immediate transactions take the write lock up front, so two
	// redemptions of one code serialize on BEGIN instead of failing on
	// lock upgrade.
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_txlock", "immediate")
	db, err := sql.Open("sqlite", path+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS AppSettings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS AuthorizationCode (
    authorizationCode TEXT PRIMARY KEY,
    time TEXT NOT NULL,
    clientId TEXT NOT NULL,
    redirectUri TEXT NOT NULL,
    state TEXT NOT NULL,
    codeChallenge TEXT NOT NULL DEFAULT '',
    codeChallengeMethod TEXT NOT NULL DEFAULT '',
    scopes TEXT NOT NULL DEFAULT '',
    host TEXT NOT NULL,
    used INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS BearerToken (
    token TEXT PRIMARY KEY,
    time TEXT NOT NULL,
    authorizationCode TEXT NOT NULL REFERENCES AuthorizationCode(authorizationCode),
    clientId TEXT NOT NULL,
    scopes TEXT NOT NULL DEFAULT '',
    host TEXT NOT NULL,
    revoked INTEGER NOT NULL DEFAULT 0
);
`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// GetSetting returns the value of an AppSettings row and whether it exists.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM AppSettings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// SetSetting upserts an AppSettings row.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO AppSettings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	return err
}

// InsertAuthorizationCode implements indieauth.Store.
func (s *Store) InsertAuthorizationCode(ctx context.Context, c *indieauth.AuthorizationCode) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO AuthorizationCode
    (authorizationCode, time, clientId, redirectUri, state, codeChallenge, codeChallengeMethod, scopes, host, used)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Code, c.Time.UTC().Format(timeLayout), c.ClientID, c.RedirectURI, c.State,
		c.CodeChallenge, c.CodeChallengeMethod, joinScopes(c.Scopes), c.Host, boolInt(c.Used))
	return err
}

// GetAuthorizationCode implements indieauth.Store.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*indieauth.AuthorizationCode, error) {
	var (
		c      indieauth.AuthorizationCode
		issued string
		scopes string
		used   int
	)
	err := s.db.QueryRowContext(ctx, `
SELECT authorizationCode, time, clientId, redirectUri, state, codeChallenge, codeChallengeMethod, scopes, host, used
FROM AuthorizationCode WHERE authorizationCode = ?`, code).
		Scan(&c.Code, &issued, &c.ClientID, &c.RedirectURI, &c.State,
			&c.CodeChallenge, &c.CodeChallengeMethod, &scopes, &c.Host, &used)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if c.Time, err = time.Parse(timeLayout, issued); err != nil {
		return nil, fmt.Errorf("authorization code time: %w", err)
	}
	c.Scopes = splitScopes(scopes)
	c.Used = used != 0
	return &c, nil
}

// ConsumeAuthorizationCode implements indieauth.Store. The conditional
// update and the token insert commit together or not at all.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string, token *indieauth.BearerToken) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE AuthorizationCode SET used = 1 WHERE authorizationCode = ? AND used = 0`, code)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n != 1 {
		return false, nil
	}

	if token != nil {
		_, err = tx.ExecContext(ctx, `
INSERT INTO BearerToken (token, time, authorizationCode, clientId, scopes, host, revoked)
VALUES (?, ?, ?, ?, ?, ?, 0)`,
			token.Token, token.Time.UTC().Format(timeLayout), code, token.ClientID,
			joinScopes(token.Scopes), token.Host)
		if err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// GetBearerToken implements indieauth.Store.
func (s *Store) GetBearerToken(ctx context.Context, token string) (*indieauth.BearerToken, error) {
	var (
		t       indieauth.BearerToken
		issued  string
		scopes  string
		revoked int
	)
	err := s.db.QueryRowContext(ctx, `
SELECT token, time, authorizationCode, clientId, scopes, host, revoked
FROM BearerToken WHERE token = ?`, token).
		Scan(&t.Token, &issued, &t.AuthorizationCode, &t.ClientID, &scopes, &t.Host, &revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if t.Time, err = time.Parse(timeLayout, issued); err != nil {
		return nil, fmt.Errorf("bearer token time: %w", err)
	}
	t.Scopes = splitScopes(scopes)
	t.Revoked = revoked != 0
	return &t, nil
}

// RevokeBearerToken implements indieauth.Store.
func (s *Store) RevokeBearerToken(ctx context.Context, token, host string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE BearerToken SET revoked = 1 WHERE token = ? AND host = ?`, token, host)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func joinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

func splitScopes(s string) []string {
	return strings.Fields(s)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
