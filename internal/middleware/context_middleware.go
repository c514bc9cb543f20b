package middleware

import (
	"strings"

	"github.com/keyfort/keyfort/internal/config"
	"github.com/keyfort/keyfort/internal/service"

	"github.com/gin-gonic/gin"
)

// ContextMiddleware resolves the authenticated session, if any, and attaches
// a user context to the request. Requests without a valid session token pass
// through with an anonymous context; handlers decide whether to require one.
type ContextMiddleware struct {
	tokens *service.TokenService
}

func NewContextMiddleware(tokens *service.TokenService) *ContextMiddleware {
	return &ContextMiddleware{
		tokens: tokens,
	}
}

func (m *ContextMiddleware) Init() error {
	return nil
}

func (m *ContextMiddleware) Name() string {
	return "context"
}

func (m *ContextMiddleware) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := m.sessionToken(c)
		if raw == "" {
			c.Set("context", &config.UserContext{})
			c.Next()
			return
		}

		userContext, err := m.tokens.ValidateSessionToken(raw)
		if err != nil {
			c.Set("context", &config.UserContext{})
			c.Next()
			return
		}

		c.Set("context", userContext)
		c.Next()
	}
}

func (m *ContextMiddleware) sessionToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	cookie, err := c.Cookie("keyfort-session")
	if err != nil {
		return ""
	}
	return cookie
}
