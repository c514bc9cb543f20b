package utils

import (
	"errors"

	"github.com/keyfort/keyfort/internal/config"

	"github.com/gin-gonic/gin"
)

// GetContext returns the authenticated user context attached to the request
// by the context middleware.
func GetContext(c *gin.Context) (config.UserContext, error) {
	val, exists := c.Get("context")
	if !exists {
		return config.UserContext{}, errors.New("no user context in request")
	}

	userContext, ok := val.(*config.UserContext)
	if !ok {
		return config.UserContext{}, errors.New("invalid user context in request")
	}

	return *userContext, nil
}
