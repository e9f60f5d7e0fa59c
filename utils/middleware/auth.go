package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/hierenlab/hieren-api/model"
	"github.com/hierenlab/hieren-api/utils/auth"
	"github.com/hierenlab/hieren-api/utils/response"
	"gorm.io/gorm"
)

// AuthMiddleware resolves bearer tokens into users. Routes choose between
// Required (reject without a valid token) and Optional (anonymous passes
// through, used by the chat surface where sessions may be ownerless).
type AuthMiddleware struct {
	jwtManager       *auth.JWTManager
	blacklistService *auth.BlacklistService
	db               *gorm.DB
}

func NewAuthMiddleware(jwtManager *auth.JWTManager, db *gorm.DB) *AuthMiddleware {
	return &AuthMiddleware{
		jwtManager:       jwtManager,
		blacklistService: auth.NewBlacklistService(db),
		db:               db,
	}
}

// authenticate runs the full token chain: header shape, signature, token
// kind, blacklist, user lookup, token version. It returns the user and
// claims, or the error that Required should surface.
func (m *AuthMiddleware) authenticate(c *fiber.Ctx) (*model.User, *auth.Claims, error) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return nil, nil, errors.New("Missing authorization token")
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, nil, errors.New("Invalid authorization format")
	}

	claims, err := m.jwtManager.ValidateToken(parts[1])
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			return nil, nil, errors.New("Token has expired")
		}
		return nil, nil, errors.New("Invalid token")
	}

	if claims.TokenType != auth.TokenKindAccess {
		return nil, nil, errors.New("Invalid token type")
	}

	isRevoked, err := m.blacklistService.IsTokenRevoked(c.Context(), claims.ID)
	if err != nil {
		return nil, nil, errors.New("Failed to check token status")
	}
	if isRevoked {
		return nil, nil, errors.New("Token has been revoked")
	}

	var user model.User
	if err := m.db.First(&user, claims.UserID).Error; err != nil {
		return nil, nil, errors.New("User not found")
	}

	// A version mismatch means the user revoked everything outstanding
	if user.TokenVersion != claims.TokenVersion {
		return nil, nil, errors.New("Token has been invalidated")
	}

	return &user, claims, nil
}

func storeIdentity(c *fiber.Ctx, user *model.User, claims *auth.Claims) {
	c.Locals("user_id", claims.UserID)
	c.Locals("user", user)
	c.Locals("token_jti", claims.ID)
}

// Required rejects the request unless a valid access token is presented
func (m *AuthMiddleware) Required() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, claims, err := m.authenticate(c)
		if err != nil {
			return response.Unauthorized(c, err.Error())
		}
		storeIdentity(c, user, claims)
		return c.Next()
	}
}

// Optional resolves the user when a valid token is presented and lets the
// request through anonymously otherwise. Invalid tokens are treated as
// absent rather than rejected.
func (m *AuthMiddleware) Optional() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Get("Authorization") == "" {
			return c.Next()
		}

		user, claims, err := m.authenticate(c)
		if err != nil {
			return c.Next()
		}
		storeIdentity(c, user, claims)
		return c.Next()
	}
}

// GetUserID extracts the authenticated user's ID from the request context
func GetUserID(c *fiber.Ctx) (uint, bool) {
	id, ok := c.Locals("user_id").(uint)
	return id, ok
}

// GetUser extracts the authenticated user from the request context
func GetUser(c *fiber.Ctx) (*model.User, bool) {
	user, ok := c.Locals("user").(*model.User)
	return user, ok
}

// GetTokenJTI extracts the presented token's JTI, used by logout to revoke it
func GetTokenJTI(c *fiber.Ctx) (string, bool) {
	jti, ok := c.Locals("token_jti").(string)
	return jti, ok
}
