package middleware

import (
	"context"
	"errors"
	"strings"

	"spacechat/internal/config"
	"spacechat/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// LocalsUserID is the fiber.Ctx locals key holding the caller's email.
const LocalsUserID = "userID"

var (
	errMissingToken  = errors.New("authorization required")
	errInvalidToken  = errors.New("invalid or expired token")
	errInvalidClaims = errors.New("token carries no email identity")
)

// IdentityVerifier checks HMAC-signed tokens minted by the external identity
// provider and extracts the verified email.
type IdentityVerifier struct {
	secret   []byte
	issuer   string
	audience string
}

// NewIdentityVerifier builds a verifier from the JWT_* settings.
func NewIdentityVerifier(cfg *config.Config) *IdentityVerifier {
	return &IdentityVerifier{
		secret:   []byte(cfg.JWTSecret),
		issuer:   cfg.JWTIssuer,
		audience: cfg.JWTAudience,
	}
}

// Verify parses tokenString and returns the lower-cased email it carries.
func (v *IdentityVerifier) Verify(tokenString string) (string, error) {
	if tokenString == "" {
		return "", errMissingToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.Parse(tokenString, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return "", errInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errInvalidClaims
	}

	// Prefer an explicit email claim; fall back to an email-shaped subject.
	email, _ := claims["email"].(string)
	if email == "" {
		email, _ = claims["sub"].(string)
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") {
		return "", errInvalidClaims
	}
	return email, nil
}

// AuthRequired enforces a bearer token. WebSocket upgrades may pass the
// token as ?token= because browsers cannot set headers on them.
func (v *IdentityVerifier) AuthRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := ""
		if parts := strings.Split(c.Get("Authorization"), " "); len(parts) == 2 && parts[0] == "Bearer" {
			tokenString = parts[1]
		}
		if tokenString == "" && strings.HasPrefix(c.Path(), "/api/ws") {
			tokenString = c.Query("token")
		}

		email, err := v.Verify(tokenString)
		if err != nil {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError(capitalize(err.Error())))
		}

		c.Locals(LocalsUserID, email)
		ctx := context.WithValue(c.UserContext(), UserIDKey, email)
		c.SetUserContext(ctx)

		return c.Next()
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
