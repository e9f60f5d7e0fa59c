package main

import (
	"log"

	"github.com/hierenlab/hieren-api/app"
)

func main() {
	if err := app.SetupAndRunServer(); err != nil {
		log.Fatalf("Server exited: %v", err)
	}
}
