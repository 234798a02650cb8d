package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PratikDhanave/event-ingestion-service/internal/apperr"
)

type fakeKeyStore struct {
	mu    sync.Mutex
	keys  map[string]Binding
	err   error
	calls int
}

func newFakeKeyStore(raw map[string]Binding) *fakeKeyStore {
	keys := make(map[string]Binding, len(raw))
	for k, b := range raw {
		keys[HashKey(k)] = b
	}
	return &fakeKeyStore{keys: keys}
}

func (f *fakeKeyStore) LookupAPIKey(_ context.Context, keyHash string) (Binding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return Binding{}, f.err
	}
	b, ok := f.keys[keyHash]
	if !ok {
		return Binding{}, ErrKeyNotFound
	}
	return b, nil
}

func (f *fakeKeyStore) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var testSecret = []byte("test-signing-secret")

func TestResolve_KnownKeyIsCached(t *testing.T) {
	store := newFakeKeyStore(map[string]Binding{"key-p1": {ProjectID: "P1", WorkspaceID: "W1"}})
	r := NewResolver(store, ResolverConfig{})

	for i := 0; i < 3; i++ {
		ac, err := r.Resolve(context.Background(), "key-p1")
		require.NoError(t, err)
		assert.Equal(t, Context{ProjectID: "P1", WorkspaceID: "W1", Source: SourceAPIKey}, ac)
	}
	assert.Equal(t, 1, store.Calls())
}

func TestResolve_UnknownKeyIsInvalidAndNotCached(t *testing.T) {
	store := newFakeKeyStore(nil)
	r := NewResolver(store, ResolverConfig{})

	for i := 0; i < 2; i++ {
		_, err := r.Resolve(context.Background(), "nope")
		require.Error(t, err)
		assert.True(t, apperr.HasCode(err, apperr.CodeInvalidCredential))
	}
	assert.Equal(t, 2, store.Calls())
	assert.Zero(t, r.CachedKeys())
}

func TestResolve_StoreFailureIsLookupError(t *testing.T) {
	store := newFakeKeyStore(nil)
	store.err = errors.New("connection refused")
	r := NewResolver(store, ResolverConfig{})

	_, err := r.Resolve(context.Background(), "key-p1")
	require.Error(t, err)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeCredentialLookupFailed, e.Code)
	assert.Equal(t, http.StatusServiceUnavailable, e.Status)
	assert.Zero(t, r.CachedKeys())
}

func TestResolve_EmptyCredential(t *testing.T) {
	r := NewResolver(newFakeKeyStore(nil), ResolverConfig{})
	_, err := r.Resolve(context.Background(), "  ")
	assert.True(t, apperr.HasCode(err, apperr.CodeMissingCredential))
}

func TestResolve_CacheEntryExpires(t *testing.T) {
	store := newFakeKeyStore(map[string]Binding{"key-p1": {ProjectID: "P1"}})
	r := NewResolver(store, ResolverConfig{CacheTTL: 20 * time.Millisecond})

	_, err := r.Resolve(context.Background(), "key-p1")
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	_, err = r.Resolve(context.Background(), "key-p1")
	require.NoError(t, err)

	assert.Equal(t, 2, store.Calls())
}

func TestResolve_InvalidateForcesLookup(t *testing.T) {
	store := newFakeKeyStore(map[string]Binding{"key-p1": {ProjectID: "P1"}})
	r := NewResolver(store, ResolverConfig{})

	_, err := r.Resolve(context.Background(), "key-p1")
	require.NoError(t, err)

	// revoke in the store, then deliver the notification
	store.mu.Lock()
	delete(store.keys, HashKey("key-p1"))
	store.mu.Unlock()
	r.Invalidate(HashKey("key-p1"))

	_, err = r.Resolve(context.Background(), "key-p1")
	assert.True(t, apperr.HasCode(err, apperr.CodeInvalidCredential))
}

func TestResolve_Token(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	store := newFakeKeyStore(nil)
	r := NewResolver(store, ResolverConfig{JWTSecret: testSecret, Now: func() time.Time { return now }})

	tok, err := SignToken(testSecret, TokenClaims{
		ProjectID: "P1",
		TraceID:   "trace-1",
		SessionID: "sess-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	require.NoError(t, err)

	ac, err := r.Resolve(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, Context{ProjectID: "P1", Source: SourceJWT, TraceID: "trace-1", SessionID: "sess-1"}, ac)
	assert.Zero(t, store.Calls())
}

func TestResolve_TokenRejections(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	r := NewResolver(newFakeKeyStore(nil), ResolverConfig{JWTSecret: testSecret, Now: func() time.Time { return now }})

	sign := func(secret []byte, claims TokenClaims) string {
		tok, err := SignToken(secret, claims)
		require.NoError(t, err)
		return tok
	}
	valid := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))}

	cases := map[string]string{
		"expired":       sign(testSecret, TokenClaims{ProjectID: "P1", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute))}}),
		"no expiry":     sign(testSecret, TokenClaims{ProjectID: "P1"}),
		"bad signature": sign([]byte("other-secret"), TokenClaims{ProjectID: "P1", RegisteredClaims: valid}),
		"no project":    sign(testSecret, TokenClaims{RegisteredClaims: valid}),
		"garbage":       "a.b.c",
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := r.Resolve(context.Background(), tok)
			assert.True(t, apperr.HasCode(err, apperr.CodeInvalidCredential), "got %v", err)
		})
	}
}

func TestResolve_TokenWithoutSecretIsInvalid(t *testing.T) {
	r := NewResolver(newFakeKeyStore(nil), ResolverConfig{})
	tok, err := SignToken(testSecret, TokenClaims{ProjectID: "P1", RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}})
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), tok)
	assert.True(t, apperr.HasCode(err, apperr.CodeInvalidCredential))
}

func TestMiddleware_SetsContextFromHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := newFakeKeyStore(map[string]Binding{"key-p1": {ProjectID: "P1"}})
	r := NewResolver(store, ResolverConfig{})

	engine := gin.New()
	engine.GET("/whoami", Middleware(r), func(c *gin.Context) {
		ac, ok := FromGin(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, ac.ProjectID)
	})

	for _, hdr := range []map[string]string{
		{"Authorization": "Bearer key-p1"},
		{"Authorization": "key-p1"},
		{"X-API-Key": "key-p1"},
	} {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		for k, v := range hdr {
			req.Header.Set(k, v)
		}
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, "headers %v", hdr)
		assert.Equal(t, "P1", w.Body.String())
	}
}

func TestMiddleware_RecordsErrorAndAborts(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewResolver(newFakeKeyStore(nil), ResolverConfig{})

	var recorded error
	engine := gin.New()
	engine.Use(func(c *gin.Context) {
		c.Next()
		recorded = c.Errors.Last()
	})
	engine.GET("/whoami", Middleware(r), func(c *gin.Context) {
		t.Fatal("handler must not run without a credential")
	})

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))

	require.Error(t, recorded)
	assert.True(t, apperr.HasCode(recorded, apperr.CodeMissingCredential))
}
