package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lukasbauer/versecast/internal/store"
)

// memStore is an in-memory Store for handler tests.
type memStore struct {
	mu       sync.Mutex
	users    map[string]*store.User
	sessions map[string]bool
	settings map[string]store.UserSettings
	history  []store.DetectionHistory
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[string]*store.User),
		sessions: make(map[string]bool),
		settings: make(map[string]store.UserSettings),
	}
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) GetUserByID(_ context.Context, id string) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) CreateUser(_ context.Context, email, name, passwordHash string) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return nil, store.ErrEmailTaken
		}
	}
	u := &store.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		Plan:         "free",
		CreatedAt:    time.Now(),
	}
	if name != "" {
		u.Name = &name
	}
	m.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (m *memStore) TouchUserLogin(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		now := time.Now()
		u.LastLoginAt = &now
	}
	return nil
}

func (m *memStore) CreateSession(_ context.Context, _ string, tokenHash string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[tokenHash] = true
	return nil
}

func (m *memStore) RevokeSession(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[tokenHash] = false
	return nil
}

func (m *memStore) IsSessionValid(_ context.Context, tokenHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[tokenHash], nil
}

func (m *memStore) GetUserSettings(_ context.Context, userID string) (*store.UserSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	us, ok := m.settings[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &us, nil
}

func (m *memStore) UpsertUserSettings(_ context.Context, userID string, us store.UserSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	us.UpdatedAt = time.Now()
	m.settings[userID] = us
	return nil
}

func (m *memStore) InsertDetectionHistory(_ context.Context, h store.DetectionHistory) (*store.DetectionHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h.ID = uuid.NewString()
	h.CreatedAt = time.Now().Add(time.Duration(len(m.history)) * time.Millisecond)
	m.history = append(m.history, h)
	return &h, nil
}

func (m *memStore) ListDetectionHistory(_ context.Context, userID string, limit int) ([]store.DetectionHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.DetectionHistory
	for _, h := range m.history {
		if h.UserID == userID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// testVerses returns an in-memory verse store seeded with a few KJV verses.
func testVerses(t *testing.T) *store.SQLiteVerses {
	t.Helper()
	sv, err := store.OpenSQLiteVerses(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sv.Close() })

	err = sv.InsertVerses(context.Background(), []store.Verse{
		{Reference: "John 3:16", Text: "For God so loved the world, that he gave his only begotten Son", Version: "KJV"},
		{Reference: "John 3:17", Text: "For God sent not his Son into the world to condemn the world", Version: "KJV"},
		{Reference: "Psalms 23:1", Text: "The LORD is my shepherd; I shall not want.", Version: "KJV"},
		{Reference: "John 3:16", Text: "For God loved the world in this way", Version: "CSB"},
	})
	if err != nil {
		t.Fatalf("seed verses: %v", err)
	}
	return sv
}

func testRouterConfig() RouterConfig {
	return RouterConfig{
		PublicBaseURL: "http://localhost:8080",
		JWTSecret:     "test-secret-key",
		JWTExpiry:     time.Hour,
	}
}

// doJSON sends a request with an optional JSON body and bearer token.
func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rdr = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			if err != nil {
				t.Fatal(err)
			}
			rdr = bytes.NewReader(data)
		}
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// registerUser creates an account through the API and returns its token.
func registerUser(t *testing.T, h http.Handler, email string) string {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/auth/register", "", map[string]string{
		"email":    email,
		"password": "correct horse battery",
		"name":     "Test Operator",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil || resp.Token == "" {
		t.Fatalf("register response: %v", err)
	}
	return resp.Token
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}
