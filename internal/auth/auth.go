package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Anonymous is the sentinel principal for connections whose credential is
// missing, malformed, expired, or unresolvable. The transport handshake still
// completes for anonymous callers; the session's membership check rejects
// them afterwards, so a forged token is indistinguishable from a missing
// conversation.
var Anonymous = uuid.Nil

// Authenticator resolves bearer credentials to principals. It is stateless;
// resolution is a signature check plus a subject parse, nothing else.
type Authenticator struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

func NewAuthenticator(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *Authenticator {
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &Authenticator{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}
}

// ResolvePrincipal runs once per connection attempt, before any conversation
// logic. The bearer token is taken from the Authorization header or, for
// browser websocket clients that cannot set headers, the token query
// parameter. Every failure path returns Anonymous.
func (a *Authenticator) ResolvePrincipal(r *http.Request) uuid.UUID {
	token := bearerFromRequest(r)
	if token == "" {
		return Anonymous
	}
	principal, err := a.VerifyAccessToken(token)
	if err != nil {
		return Anonymous
	}
	return principal
}

// VerifyAccessToken validates an HS256 access token and returns its subject.
func (a *Authenticator) VerifyAccessToken(tokenString string) (uuid.UUID, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.accessSecret, nil
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return uuid.Nil, fmt.Errorf("invalid token claims")
	}
	userIDStr, ok := claims["user_id"].(string)
	if !ok {
		return uuid.Nil, fmt.Errorf("invalid token claims: user_id not found")
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid user ID in token claims: %w", err)
	}
	return userID, nil
}

// GenerateTokens issues an access/refresh pair for userID. The chat engine
// itself only verifies; issuing lives here for the platform's login surface
// and for the tests.
func (a *Authenticator) GenerateTokens(userID uuid.UUID) (access string, refresh string, err error) {
	now := time.Now()

	accessClaims := jwt.MapClaims{
		"user_id": userID.String(),
		"exp":     now.Add(a.accessTTL).Unix(),
		"iat":     now.Unix(),
	}
	refreshClaims := jwt.MapClaims{
		"user_id": userID.String(),
		"exp":     now.Add(a.refreshTTL).Unix(),
		"iat":     now.Unix(),
	}

	access, err = jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims).SignedString(a.accessSecret)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign access token: %w", err)
	}
	refresh, err = jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims).SignedString(a.refreshSecret)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign refresh token: %w", err)
	}
	return access, refresh, nil
}

func bearerFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
