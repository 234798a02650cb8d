package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/PratikDhanave/event-ingestion-service/internal/apperr"
)

// TokenClaims are the claims carried by SDK session tokens.
type TokenClaims struct {
	ProjectID   string `json:"project_id"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	TraceID     string `json:"trace_id,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	jwt.RegisteredClaims
}

type tokenVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func newTokenVerifier(secret []byte, now func() time.Time) *tokenVerifier {
	return &tokenVerifier{
		secret: secret,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithTimeFunc(now),
		),
	}
}

func (v *tokenVerifier) verify(raw string) (Context, error) {
	if len(v.secret) == 0 {
		return Context{}, apperr.New(apperr.CodeInvalidCredential, "token authentication disabled")
	}

	claims := &TokenClaims{}
	_, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return Context{}, apperr.Wrap(apperr.CodeInvalidCredential, "", err)
	}
	if claims.ProjectID == "" {
		return Context{}, apperr.New(apperr.CodeInvalidCredential, "token missing project_id")
	}

	return Context{
		ProjectID:   claims.ProjectID,
		WorkspaceID: claims.WorkspaceID,
		Source:      SourceJWT,
		TraceID:     claims.TraceID,
		SessionID:   claims.SessionID,
	}, nil
}

// SignToken issues an HS256 token for claims. Used by tests and local tooling.
func SignToken(secret []byte, claims TokenClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
