package main

import (
	"log"

	"github.com/hierenlab/hieren-api/database"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on the process environment")
	}

	store, err := database.StartGORM()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()

	log.Println("Seeding the Hieren database...")

	if err := database.NewSeeder(store.GetDB()).SeedAll(); err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}

	log.Println("Seeding completed. The admin account comes from ADMIN_EMAIL and ADMIN_PASSWORD; without them it is skipped.")
}
