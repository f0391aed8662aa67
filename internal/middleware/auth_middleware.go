package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/traillend/reservation-flow/internal/utils"
	"github.com/traillend/reservation-flow/pkg/jwt"
)

// UserContextKey is the key used to store user information in Gin context
const UserContextKey = "user"

// RefreshTokenHeader carries the caller's refresh token so the service can
// refresh on their behalf when the inventory backend answers 401.
const RefreshTokenHeader = "X-Refresh-Token"

// PlatformHeader lets the client state its platform explicitly
const PlatformHeader = "X-Client-Platform"

// UserContext represents the authenticated user's information
type UserContext struct {
	UserID       string `json:"user_id"`
	AccessToken  string `json:"-"`
	RefreshToken string `json:"-"`
	Platform     string `json:"platform"`
	// AccessExpired is set when the access token was accepted only because a
	// refresh token came with it
	AccessExpired bool `json:"access_expired"`
}

// AuthMiddleware creates a middleware that validates JWT tokens issued by the
// inventory backend
func AuthMiddleware(jwtService *jwt.Service, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.WithFields(logrus.Fields{
			"path": c.Request.URL.Path,
			"ip":   c.ClientIP(),
		})

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			log.Warn("AUTH FAILED: Missing authorization header")
			abortUnauthorized(c, "unauthorized", "Authorization header is required", "MISSING_AUTH_HEADER")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			log.Warn("AUTH FAILED: Invalid auth format")
			abortUnauthorized(c, "unauthorized", "Invalid authorization header format. Expected: Bearer <token>", "INVALID_AUTH_FORMAT")
			return
		}

		tokenString := strings.TrimSpace(parts[1])
		if tokenString == "" {
			log.Warn("AUTH FAILED: Empty token")
			abortUnauthorized(c, "unauthorized", "Token cannot be empty", "INVALID_AUTH_FORMAT")
			return
		}

		refreshToken := strings.TrimSpace(c.GetHeader(RefreshTokenHeader))
		expired := false

		claims, err := jwtService.ValidateAccessToken(tokenString)
		if err != nil {
			if !jwt.IsExpired(err) {
				log.WithError(err).Warn("AUTH FAILED: Invalid token")
				abortUnauthorized(c, "invalid_token", "Invalid access token", "INVALID_TOKEN")
				return
			}
			if refreshToken == "" {
				log.Info("AUTH FAILED: Token expired")
				abortUnauthorized(c, "token_expired", "Access token has expired. Please refresh your token.", "TOKEN_EXPIRED")
				return
			}
			claims, err = jwtService.ValidateExpiredAccessToken(tokenString)
			if err != nil {
				log.WithError(err).Warn("AUTH FAILED: Invalid expired token")
				abortUnauthorized(c, "invalid_token", "Invalid access token", "INVALID_TOKEN")
				return
			}
			expired = true
		}

		c.Set(UserContextKey, UserContext{
			UserID:        string(claims.UserID),
			AccessToken:   tokenString,
			RefreshToken:  refreshToken,
			Platform:      utils.ClientPlatform(c.GetHeader(PlatformHeader), c.Request.UserAgent()),
			AccessExpired: expired,
		})
		c.Set("user_id", string(claims.UserID))

		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, errCode, message, code string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":   errCode,
		"message": message,
		"code":    code,
	})
}

// GetUserContext retrieves the user context from Gin context
func GetUserContext(c *gin.Context) (UserContext, bool) {
	value, exists := c.Get(UserContextKey)
	if !exists {
		return UserContext{}, false
	}

	userCtx, ok := value.(UserContext)
	if !ok {
		return UserContext{}, false
	}

	return userCtx, true
}
