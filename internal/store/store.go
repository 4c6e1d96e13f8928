package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrEmailTaken is returned by CreateUser when the email is already registered.
var ErrEmailTaken = errors.New("email already registered")

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Verse is one row of the verses table: a single verse in a single version.
type Verse struct {
	Reference string `json:"reference"`
	Text      string `json:"text"`
	Version   string `json:"version"`
}

// User represents an operator account
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Name         *string    `json:"name,omitempty"`
	PasswordHash string     `json:"-"`
	Plan         string     `json:"plan"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// UserSettings holds the operator's detection and projection preferences.
// Projection is stored as JSON and validated by the API layer.
type UserSettings struct {
	BibleVersion        string          `json:"bibleVersion"`
	ConfidenceThreshold int             `json:"confidenceThreshold"`
	Projection          json.RawMessage `json:"projection,omitempty"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

// DetectionHistory is a verse match the operator selected during a service.
type DetectionHistory struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Reference  string    `json:"reference"`
	Text       string    `json:"text"`
	Version    string    `json:"version"`
	Confidence int       `json:"confidence"`
	Transcript *string   `json:"transcript,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// escapeLike escapes LIKE wildcards so user text is matched literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// GetVerse looks up a verse by its exact reference and version.
func (s *Store) GetVerse(ctx context.Context, reference, version string) (*Verse, error) {
	var v Verse
	err := s.db.QueryRow(ctx, `
		SELECT reference, text, version
		FROM verses
		WHERE reference = $1 AND version = $2
	`, reference, version).Scan(&v.Reference, &v.Text, &v.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// SearchVerses returns verses of the given version whose text contains query,
// case-insensitively, in canonical order.
func (s *Store) SearchVerses(ctx context.Context, query, version string, limit int) ([]Verse, error) {
	rows, err := s.db.Query(ctx, `
		SELECT reference, text, version
		FROM verses
		WHERE version = $1 AND text ILIKE '%' || $2 || '%'
		ORDER BY id
		LIMIT $3
	`, version, escapeLike(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Verse
	for rows.Next() {
		var v Verse
		if err := rows.Scan(&v.Reference, &v.Text, &v.Version); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.scanUser(s.db.QueryRow(ctx, `
		SELECT id, email, name, password_hash, plan, last_login_at, created_at
		FROM users WHERE lower(email) = lower($1)
	`, email))
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.scanUser(s.db.QueryRow(ctx, `
		SELECT id, email, name, password_hash, plan, last_login_at, created_at
		FROM users WHERE id = $1
	`, id))
}

func (s *Store) scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Plan, &u.LastLoginAt, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a new operator on the free plan.
func (s *Store) CreateUser(ctx context.Context, email, name, passwordHash string) (*User, error) {
	var u User
	err := s.db.QueryRow(ctx, `
		INSERT INTO users (email, name, password_hash, plan)
		VALUES ($1, NULLIF($2, ''), $3, 'free')
		RETURNING id, email, name, password_hash, plan, last_login_at, created_at
	`, email, name, passwordHash).Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Plan, &u.LastLoginAt, &u.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) TouchUserLogin(ctx context.Context, userID string) error {
	_, err := s.db.Exec(ctx, `UPDATE users SET last_login_at = NOW() WHERE id = $1`, userID)
	return err
}

// CreateSession stores a hashed token so it can be revoked on logout.
func (s *Store) CreateSession(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO user_sessions (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
	`, userID, tokenHash, expiresAt)
	return err
}

func (s *Store) RevokeSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE user_sessions SET revoked_at = NOW() WHERE token_hash = $1
	`, tokenHash)
	return err
}

func (s *Store) IsSessionValid(ctx context.Context, tokenHash string) (bool, error) {
	var valid bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM user_sessions
			WHERE token_hash = $1
			  AND revoked_at IS NULL
			  AND expires_at > NOW()
		)
	`, tokenHash).Scan(&valid)
	return valid, err
}

// GetUserSettings returns ErrNotFound when the user never saved settings.
func (s *Store) GetUserSettings(ctx context.Context, userID string) (*UserSettings, error) {
	var us UserSettings
	var projection []byte
	err := s.db.QueryRow(ctx, `
		SELECT bible_version, confidence_threshold, projection, updated_at
		FROM user_settings WHERE user_id = $1
	`, userID).Scan(&us.BibleVersion, &us.ConfidenceThreshold, &projection, &us.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(projection) > 0 {
		us.Projection = projection
	}
	return &us, nil
}

func (s *Store) UpsertUserSettings(ctx context.Context, userID string, us UserSettings) error {
	var projection []byte
	if len(us.Projection) > 0 {
		projection = us.Projection
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO user_settings (user_id, bible_version, confidence_threshold, projection, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			bible_version = EXCLUDED.bible_version,
			confidence_threshold = EXCLUDED.confidence_threshold,
			projection = EXCLUDED.projection,
			updated_at = NOW()
	`, userID, us.BibleVersion, us.ConfidenceThreshold, projection)
	return err
}

func (s *Store) InsertDetectionHistory(ctx context.Context, h DetectionHistory) (*DetectionHistory, error) {
	err := s.db.QueryRow(ctx, `
		INSERT INTO detection_history (user_id, reference, text, version, confidence, transcript)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, h.UserID, h.Reference, h.Text, h.Version, h.Confidence, h.Transcript).Scan(&h.ID, &h.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (s *Store) ListDetectionHistory(ctx context.Context, userID string, limit int) ([]DetectionHistory, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, reference, text, version, confidence, transcript, created_at
		FROM detection_history
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DetectionHistory
	for rows.Next() {
		var h DetectionHistory
		if err := rows.Scan(&h.ID, &h.UserID, &h.Reference, &h.Text, &h.Version, &h.Confidence, &h.Transcript, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
