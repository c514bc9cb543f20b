package server

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type ServerConfig struct {
	Port           int
	Address        string
	TrustedProxies string
}

type Middleware interface {
	Middleware() gin.HandlerFunc
	Init() error
	Name() string
}

type Controller interface {
	SetupRoutes()
}

type Server struct {
	Config ServerConfig
	Router *gin.Engine
}

// NewServer wires middlewares into a gin engine. Controllers register their
// routes on groups created from Engine by the caller.
func NewServer(config ServerConfig, middlewares []Middleware) (*Server, error) {
	router := gin.New()

	if config.TrustedProxies != "" {
		err := router.SetTrustedProxies(strings.Split(config.TrustedProxies, ","))
		if err != nil {
			return nil, fmt.Errorf("failed to set trusted proxies: %w", err)
		}
	}

	for _, middleware := range middlewares {
		log.Debug().Str("middleware", middleware.Name()).Msg("Initializing middleware")
		err := middleware.Init()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize middleware %s: %w", middleware.Name(), err)
		}
		router.Use(middleware.Middleware())
	}

	return &Server{
		Config: config,
		Router: router,
	}, nil
}

func (s *Server) Start() error {
	log.Info().Str("address", s.Config.Address).Int("port", s.Config.Port).Msg("Starting server")
	return s.Router.Run(fmt.Sprintf("%s:%d", s.Config.Address, s.Config.Port))
}
