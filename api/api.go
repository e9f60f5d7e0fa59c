package api

import (
	"log"

	"github.com/gofiber/fiber/v2"
)

// APIServer wraps the Fiber engine with its listen address
type APIServer struct {
	app           *fiber.App
	listenAddress string
}

func NewAPIServer(listenAddress string) *APIServer {
	return &APIServer{
		app: fiber.New(fiber.Config{
			AppName: "Hieren API",
		}),
		listenAddress: listenAddress,
	}
}

// GetEngine exposes the Fiber app for middleware and route registration
func (s *APIServer) GetEngine() *fiber.App {
	return s.app
}

// Run blocks serving requests until the listener fails or is closed
func (s *APIServer) Run() error {
	log.Printf("Hieren API listening on %s", s.listenAddress)
	return s.app.Listen(s.listenAddress)
}
