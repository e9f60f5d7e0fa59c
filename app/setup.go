package app

import (
	"fmt"
	"log"
	"os"

	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hierenlab/hieren-api/api"
	"github.com/hierenlab/hieren-api/config"
	"github.com/hierenlab/hieren-api/database"
	"github.com/hierenlab/hieren-api/router"
	"github.com/hierenlab/hieren-api/services/cron"
)

// SetupAndRunServer boots the full API: env, database, retention jobs,
// middleware, routes. It blocks until the listener stops.
func SetupAndRunServer() error {
	if err := config.LoadENV(); err != nil {
		return err
	}

	env, err := config.Get()
	if err != nil {
		return err
	}

	store, err := database.StartGORM()
	if err != nil {
		return fmt.Errorf("database connection failed (is Postgres up?): %w", err)
	}

	if err := store.Init(); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}

	// Retention jobs run in-process unless explicitly disabled
	var cronManager *cron.CronManager
	if os.Getenv("CRON_ENABLED") != "false" {
		cronManager = cron.NewCronManager(store.GetDB())
		if err := cronManager.Start(); err != nil {
			log.Printf("Warning: retention jobs failed to start: %v", err)
			cronManager = nil
		}
	}

	defer func() {
		if cronManager != nil {
			cronManager.Stop()
		}
		store.Close()
	}()

	server := api.NewAPIServer(fmt.Sprintf(":%d", env.PORT))
	app := server.GetEngine()

	app.Use(logger.New())
	app.Use(recover.New())

	router.SetupRoutes(app, store, env)

	return server.Run()
}
