package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the authenticated staff principal. Role holds one of
// the RBAC roles; anything unrecognized is demoted to viewer when the
// token is validated.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

// JWTManager signs and verifies the HS256 access tokens staff users
// present. Partner traffic authenticates with API keys instead.
type JWTManager struct {
	secret []byte
	expiry time.Duration
	issuer string
	parser *jwt.Parser
}

func NewJWTManager(secret string, expiry time.Duration, issuer string) *JWTManager {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &JWTManager{
		secret: []byte(secret),
		expiry: expiry,
		issuer: issuer,
		parser: jwt.NewParser(opts...),
	}
}

// Generate mints a token for the subject with the given role. The role
// is normalized so the token never carries a value the RBAC layer
// would not recognize.
func (m *JWTManager) Generate(subject, role string) (string, error) {
	if strings.TrimSpace(subject) == "" || strings.TrimSpace(role) == "" {
		return "", fmt.Errorf("%w: subject and role are required", ErrInvalidToken)
	}

	now := time.Now()
	claims := &Claims{
		Role: string(NormalizeRole(role)),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiry)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Validate parses and verifies a token. Signature, algorithm, issuer,
// and expiry checks are delegated to the parser options set up in
// NewJWTManager.
func (m *JWTManager) Validate(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, ErrMissingToken
	}

	parsed, err := m.parser.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	claims.Role = string(NormalizeRole(claims.Role))
	return claims, nil
}

// TokenFromHeader extracts the bearer token from an Authorization
// header value.
func TokenFromHeader(authHeader string) (string, error) {
	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", ErrMissingToken
	}
	return parts[1], nil
}
