package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type HealthController struct {
	router *gin.RouterGroup
}

func NewHealthController(router *gin.RouterGroup) *HealthController {
	return &HealthController{
		router: router,
	}
}

func (controller *HealthController) SetupRoutes() {
	controller.router.GET("/api/healthcheck", controller.healthcheckHandler)
	controller.router.HEAD("/api/healthcheck", controller.healthcheckHandler)
}

func (controller *HealthController) healthcheckHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}
