package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const sessionCookieName = "streamlens_session"

// PostgresStore keeps per-provider auth state and tokens server-side, keyed
// by a random session id cookie. It satisfies the same Store contract as
// CookieStore so the flow handlers are unaware of where tokens live.
type PostgresStore struct {
	db     *sqlx.DB
	secure bool
}

// NewPostgresStore creates a PostgresStore backed by the sessions table.
func NewPostgresStore(db *sqlx.DB, env string) *PostgresStore {
	return &PostgresStore{db: db, secure: !strings.EqualFold(env, "development")}
}

type sessionRow struct {
	AuthState     sql.NullString `db:"auth_state"`
	StateIssuedAt sql.NullTime   `db:"state_issued_at"`
	AccessToken   string         `db:"access_token"`
	RefreshToken  string         `db:"refresh_token"`
	ExpiresAt     sql.NullTime   `db:"expires_at"`
	Profile       []byte         `db:"profile"`
}

// SetAuthState records the CSRF nonce against the browser session,
// overwriting any previous attempt for the provider.
func (s *PostgresStore) SetAuthState(w http.ResponseWriter, r *http.Request, provider, value string) error {
	id := s.ensureSessionID(w, r)
	const query = `
		INSERT INTO sessions (id, provider, auth_state, state_issued_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (id, provider)
		DO UPDATE SET auth_state = $3, state_issued_at = now(), updated_at = now()
	`
	_, err := s.db.ExecContext(r.Context(), query, id, provider, value)
	return err
}

// AuthState returns the stored nonce if it has not aged past StateTTL.
func (s *PostgresStore) AuthState(r *http.Request, provider string) (string, bool) {
	row, ok := s.load(r, provider)
	if !ok || !row.AuthState.Valid || row.AuthState.String == "" {
		return "", false
	}
	if !row.StateIssuedAt.Valid || time.Since(row.StateIssuedAt.Time) > StateTTL {
		return "", false
	}
	return row.AuthState.String, true
}

// ClearAuthState invalidates the stored nonce.
func (s *PostgresStore) ClearAuthState(_ http.ResponseWriter, r *http.Request, provider string) error {
	id, ok := s.sessionID(r)
	if !ok {
		return nil
	}
	const query = `
		UPDATE sessions SET auth_state = NULL, state_issued_at = NULL, updated_at = now()
		WHERE id = $1 AND provider = $2
	`
	_, err := s.db.ExecContext(r.Context(), query, id, provider)
	return err
}

// TokenSet returns the stored credentials when an unexpired access token is
// present.
func (s *PostgresStore) TokenSet(r *http.Request, provider string) (TokenSet, bool) {
	row, ok := s.load(r, provider)
	if !ok || row.AccessToken == "" {
		return TokenSet{}, false
	}
	if row.ExpiresAt.Valid && time.Now().After(row.ExpiresAt.Time) {
		return TokenSet{}, false
	}
	ts := TokenSet{AccessToken: row.AccessToken, RefreshToken: row.RefreshToken}
	if row.ExpiresAt.Valid {
		ts.ExpiresAt = row.ExpiresAt.Time
	}
	return ts, true
}

// RefreshToken returns the stored refresh token regardless of access token
// expiry.
func (s *PostgresStore) RefreshToken(r *http.Request, provider string) (string, bool) {
	row, ok := s.load(r, provider)
	if !ok || row.RefreshToken == "" {
		return "", false
	}
	return row.RefreshToken, true
}

// WriteTokenSet commits new credentials, preserving the previous refresh
// token when the provider did not rotate it.
func (s *PostgresStore) WriteTokenSet(w http.ResponseWriter, r *http.Request, provider string, ts TokenSet) error {
	id := s.ensureSessionID(w, r)
	const query = `
		INSERT INTO sessions (id, provider, access_token, refresh_token, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id, provider)
		DO UPDATE SET
			access_token = $3,
			refresh_token = CASE WHEN $4 = '' THEN sessions.refresh_token ELSE $4 END,
			expires_at = $5,
			updated_at = now()
	`
	var expires any
	if !ts.ExpiresAt.IsZero() {
		expires = ts.ExpiresAt
	}
	_, err := s.db.ExecContext(r.Context(), query, id, provider, ts.AccessToken, ts.RefreshToken, expires)
	return err
}

// WriteProfile commits the snapshot as JSONB.
func (s *PostgresStore) WriteProfile(w http.ResponseWriter, r *http.Request, provider string, p Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}

	id := s.ensureSessionID(w, r)
	const query = `
		INSERT INTO sessions (id, provider, profile, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (id, provider)
		DO UPDATE SET profile = $3, updated_at = now()
	`
	_, err = s.db.ExecContext(r.Context(), query, id, provider, data)
	return err
}

// Profile reads back the stored snapshot.
func (s *PostgresStore) Profile(r *http.Request, provider string) (Profile, bool) {
	row, ok := s.load(r, provider)
	if !ok || len(row.Profile) == 0 {
		return Profile{}, false
	}
	var p Profile
	if err := json.Unmarshal(row.Profile, &p); err != nil {
		return Profile{}, false
	}
	return p, true
}

// Clear drops all stored data for the provider.
func (s *PostgresStore) Clear(_ http.ResponseWriter, r *http.Request, provider string) error {
	id, ok := s.sessionID(r)
	if !ok {
		return nil
	}
	_, err := s.db.ExecContext(r.Context(), `DELETE FROM sessions WHERE id = $1 AND provider = $2`, id, provider)
	return err
}

// Connected reports whether an unexpired access token is stored.
func (s *PostgresStore) Connected(r *http.Request, provider string) bool {
	_, ok := s.TokenSet(r, provider)
	return ok
}

// DeleteExpired removes sessions whose refresh window has lapsed. Intended
// for periodic cleanup.
func (s *PostgresStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < $1`, time.Now().Add(-RefreshTokenTTL))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *PostgresStore) load(r *http.Request, provider string) (sessionRow, bool) {
	id, ok := s.sessionID(r)
	if !ok {
		return sessionRow{}, false
	}

	const query = `
		SELECT auth_state, state_issued_at, access_token, refresh_token, expires_at, profile
		FROM sessions
		WHERE id = $1 AND provider = $2
	`
	var row sessionRow
	if err := s.db.GetContext(r.Context(), &row, query, id, provider); err != nil {
		// Missing rows and read failures both degrade to "not connected";
		// the probe is non-authoritative.
		return sessionRow{}, false
	}
	return row, true
}

func (s *PostgresStore) sessionID(r *http.Request) (string, bool) {
	c, err := r.Cookie(sessionCookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	if _, err := uuid.Parse(c.Value); err != nil {
		return "", false
	}
	return c.Value, true
}

func (s *PostgresStore) ensureSessionID(w http.ResponseWriter, r *http.Request) string {
	if id, ok := s.sessionID(r); ok {
		return id
	}

	id := uuid.NewString()
	cookie := &http.Cookie{
		Name:     sessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(RefreshTokenTTL.Seconds()),
	}
	http.SetCookie(w, cookie)
	// Make the id visible to later writes within the same request.
	r.AddCookie(cookie)
	return id
}
