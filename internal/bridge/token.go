package bridge

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token defaults. The TTL outlives the finalizer deadline so a slow fleet
// can still report before the sweep closes the evaluation.
const (
	DefaultIssuer   = "go-discover"
	DefaultTokenTTL = 2 * time.Hour
)

// Token errors.
var (
	ErrMissingSecret = errors.New("callback token secret is empty")
	ErrInvalidToken  = errors.New("invalid callback token")
)

// Claims are the JWT claims of a callback token.
type Claims struct {
	EvaluationID string `json:"evaluationId"`
	jwt.RegisteredClaims
}

type tokenConfig struct {
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// TokenOption customizes a Signer or Verifier.
type TokenOption func(*tokenConfig)

// WithIssuer overrides DefaultIssuer.
func WithIssuer(iss string) TokenOption { return func(c *tokenConfig) { c.issuer = iss } }

// WithTokenTTL overrides DefaultTokenTTL.
func WithTokenTTL(ttl time.Duration) TokenOption { return func(c *tokenConfig) { c.ttl = ttl } }

// WithTokenClock overrides time.Now for issuing and checking expiry.
func WithTokenClock(now func() time.Time) TokenOption { return func(c *tokenConfig) { c.now = now } }

func newTokenConfig(opts []TokenOption) tokenConfig {
	c := tokenConfig{issuer: DefaultIssuer, ttl: DefaultTokenTTL, now: time.Now}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Signer issues HS256 callback tokens scoped to one evaluation.
type Signer struct {
	key []byte
	cfg tokenConfig
}

// NewSigner returns a Signer for the shared secret.
func NewSigner(secret string, opts ...TokenOption) (*Signer, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	return &Signer{key: []byte(secret), cfg: newTokenConfig(opts)}, nil
}

// Sign issues a token whose evaluationId claim is evaluationID.
func (s *Signer) Sign(evaluationID string) (string, error) {
	now := s.cfg.now()
	claims := Claims{
		EvaluationID: evaluationID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.issuer,
			Subject:   evaluationID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign callback token: %w", err)
	}
	return token, nil
}

// Verifier checks callback tokens.
type Verifier struct {
	key    []byte
	cfg    tokenConfig
	parser *jwt.Parser
}

// NewVerifier returns a Verifier for the shared secret.
func NewVerifier(secret string, opts ...TokenOption) (*Verifier, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	cfg := newTokenConfig(opts)
	return &Verifier{
		key: []byte(secret),
		cfg: cfg,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(cfg.issuer),
			jwt.WithExpirationRequired(),
			jwt.WithTimeFunc(cfg.now),
		),
	}, nil
}

// Verify checks the signature, issuer, and expiry of token and that it was
// issued for evaluationID. Every failure wraps ErrInvalidToken.
func (v *Verifier) Verify(token, evaluationID string) error {
	if token == "" {
		return fmt.Errorf("%w: missing", ErrInvalidToken)
	}
	var claims Claims
	_, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) { return v.key, nil })
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.EvaluationID == "" || claims.EvaluationID != evaluationID {
		return fmt.Errorf("%w: issued for another evaluation", ErrInvalidToken)
	}
	return nil
}
