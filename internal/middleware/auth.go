package middleware

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/punchliner/api/pkg/response"
)

const issuer = "punchliner-api"

// AuthMiddleware validates bearer tokens. HMAC tokens are checked against the
// shared secret; asymmetric tokens against a JWKS when one is configured.
// When not required, anonymous requests pass through and only presented
// tokens are checked.
type AuthMiddleware struct {
	jwtSecret string
	required  bool
	jwks      keyfunc.Keyfunc
	audience  string
}

type UserClaims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

func NewAuthMiddleware(jwtSecret string, required bool) *AuthMiddleware {
	return &AuthMiddleware{jwtSecret: jwtSecret, required: required}
}

// Authenticate validates JWT token from Authorization header
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			if m.required {
				return response.Unauthorized(c, "Missing authorization header")
			}
			return c.Next()
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return response.Unauthorized(c, "Invalid authorization header format")
		}

		if m.jwtSecret == "" && m.jwks == nil {
			return response.Unauthorized(c, "Authentication not configured")
		}

		claims, err := m.validate(parts[1])
		if err != nil {
			return response.Unauthorized(c, "Invalid or expired token")
		}

		c.Locals("userId", claims.UserID)
		c.Locals("email", claims.Email)
		c.Locals("claims", claims)

		return c.Next()
	}
}

// WithJWKS accepts tokens signed by keys of the JWKS at url. A non-empty
// audience must be listed in the token.
func (m *AuthMiddleware) WithJWKS(ctx context.Context, url, audience string) error {
	jwks, err := keyfunc.NewDefaultCtx(ctx, []string{url})
	if err != nil {
		return fmt.Errorf("failed to create JWKS keyfunc: %w", err)
	}
	m.WithKeyfunc(jwks, audience)
	return nil
}

// WithKeyfunc is WithJWKS with a prepared key set
func (m *AuthMiddleware) WithKeyfunc(jwks keyfunc.Keyfunc, audience string) {
	m.jwks = jwks
	m.audience = audience
}

func (m *AuthMiddleware) validate(tokenString string) (*UserClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &UserClaims{}, m.key)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*UserClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}

	if _, hmac := token.Method.(*jwt.SigningMethodHMAC); !hmac && m.audience != "" {
		aud, err := claims.GetAudience()
		if err != nil || !slices.Contains(aud, m.audience) {
			return nil, errors.New("invalid audience")
		}
	}

	// identity providers put the user in sub
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	return claims, nil
}

func (m *AuthMiddleware) key(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); ok {
		if m.jwtSecret == "" {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(m.jwtSecret), nil
	}
	if m.jwks == nil {
		return nil, jwt.ErrSignatureInvalid
	}
	return m.jwks.Keyfunc(token)
}

// GetUserID extracts user ID from context
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals("userId").(string); ok {
		return userID
	}
	return ""
}

// GenerateToken creates a new JWT token (useful for testing)
func (m *AuthMiddleware) GenerateToken(userID, email string) (string, error) {
	claims := UserClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.jwtSecret))
}
