package controller

import (
	"net/http"

	"github.com/keyfort/keyfort/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type AuthController struct {
	router *gin.RouterGroup
	users  *service.UserService
	tokens *service.TokenService
}

func NewAuthController(router *gin.RouterGroup, users *service.UserService, tokens *service.TokenService) *AuthController {
	return &AuthController{
		router: router,
		users:  users,
		tokens: tokens,
	}
}

func (controller *AuthController) SetupRoutes() {
	controller.router.POST("/api/login", controller.loginHandler)
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// loginHandler verifies credentials against the user directory and issues a
// session token for the authorize endpoint. Session UI and cookie lifecycle
// belong to the frontend, not here.
func (controller *AuthController) loginHandler(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": "Missing email or password",
		})
		return
	}

	userID, err := controller.users.VerifyCredentials(req.Email, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":             "access_denied",
			"error_description": "Invalid credentials",
		})
		return
	}

	user, err := controller.users.GetUser(userID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":             "access_denied",
			"error_description": "Invalid credentials",
		})
		return
	}

	sessionToken, expiresIn, err := controller.tokens.MintSessionToken(user)
	if err != nil {
		log.Error().Err(err).Msg("Failed to mint session token")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "server_error",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_token": sessionToken,
		"token_type":    "Bearer",
		"expires_in":    expiresIn,
	})
}
