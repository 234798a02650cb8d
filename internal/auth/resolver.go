package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/PratikDhanave/event-ingestion-service/internal/apperr"
)

// Source records how a request was authenticated.
type Source string

const (
	SourceAPIKey Source = "api_key"
	SourceJWT    Source = "jwt"
)

// Context is the resolved identity attached to an authenticated request.
type Context struct {
	ProjectID   string
	WorkspaceID string
	Source      Source
	TraceID     string
	SessionID   string
}

// Binding is what the metadata store knows about an API key.
type Binding struct {
	ProjectID   string
	WorkspaceID string
}

// ErrKeyNotFound is returned by a KeyStore for unknown or revoked keys.
var ErrKeyNotFound = errors.New("api key not found")

// KeyStore looks up API keys by the hex sha256 of the raw key.
type KeyStore interface {
	LookupAPIKey(ctx context.Context, keyHash string) (Binding, error)
}

// Resolver maps a raw credential to a Context.
type Resolver interface {
	Resolve(ctx context.Context, raw string) (Context, error)
}

// ResolverConfig tunes the credential cache and store timeouts.
type ResolverConfig struct {
	JWTSecret     []byte
	CacheSize     int
	CacheTTL      time.Duration
	LookupTimeout time.Duration
	Logger        *slog.Logger
	// Now is used for token expiry checks. Defaults to time.Now.
	Now func() time.Time
}

// CredentialResolver resolves API keys through a KeyStore with a bounded TTL
// cache, and verifies signed tokens locally.
type CredentialResolver struct {
	keys          KeyStore
	cache         *expirable.LRU[string, Context]
	tokens        *tokenVerifier
	lookupTimeout time.Duration
	log           *slog.Logger
}

// NewResolver builds a CredentialResolver backed by keys.
func NewResolver(keys KeyStore, cfg ResolverConfig) *CredentialResolver {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 10000
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CredentialResolver{
		keys:          keys,
		cache:         expirable.NewLRU[string, Context](cfg.CacheSize, nil, cfg.CacheTTL),
		tokens:        newTokenVerifier(cfg.JWTSecret, cfg.Now),
		lookupTimeout: cfg.LookupTimeout,
		log:           cfg.Logger,
	}
}

// Resolve authenticates raw. Unknown keys and bad tokens fail with
// auth.invalid_credential; an unreachable store fails with
// auth.credential_lookup_failed so callers can answer 503 instead of 401.
func (r *CredentialResolver) Resolve(ctx context.Context, raw string) (Context, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Context{}, apperr.New(apperr.CodeMissingCredential, "")
	}
	if looksLikeJWT(raw) {
		return r.tokens.verify(raw)
	}
	return r.resolveAPIKey(ctx, raw)
}

func (r *CredentialResolver) resolveAPIKey(ctx context.Context, raw string) (Context, error) {
	hash := HashKey(raw)
	if cached, ok := r.cache.Get(hash); ok {
		return cached, nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
	defer cancel()

	binding, err := r.keys.LookupAPIKey(lookupCtx, hash)
	if errors.Is(err, ErrKeyNotFound) {
		return Context{}, apperr.New(apperr.CodeInvalidCredential, "")
	}
	if err != nil {
		r.log.Warn("api key lookup failed", "error", err)
		return Context{}, apperr.Wrap(apperr.CodeCredentialLookupFailed, "", err)
	}

	ac := Context{
		ProjectID:   binding.ProjectID,
		WorkspaceID: binding.WorkspaceID,
		Source:      SourceAPIKey,
	}
	r.cache.Add(hash, ac)
	return ac, nil
}

// Invalidate drops a cached key, typically on a revocation notice from the store.
func (r *CredentialResolver) Invalidate(keyHash string) {
	r.cache.Remove(keyHash)
}

// CachedKeys reports the number of live cache entries.
func (r *CredentialResolver) CachedKeys() int {
	return r.cache.Len()
}

// HashKey returns the hex sha256 of a raw API key, the form stored in api_keys.key_hash.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func looksLikeJWT(raw string) bool {
	return strings.Count(raw, ".") == 2
}
