// Command seed fills the database with demo users, spaces and messages.
package main

import (
	"context"
	"flag"
	"log"

	"spacechat/internal/config"
	"spacechat/internal/database"
	"spacechat/internal/seed"
)

func main() {
	numUsers := flag.Int("users", 20, "Number of users to create")
	numSpaces := flag.Int("spaces", 6, "Number of spaces to create")
	perSpace := flag.Int("messages", 40, "Messages to post in each space")
	domain := flag.String("domain", "", "Email domain for seeded users (defaults to ALLOWED_EMAIL_DOMAIN)")
	shouldClean := flag.Bool("clean", true, "Clean database before seeding")
	randSeed := flag.Int64("seed", 0, "Random seed for reproducible runs")
	flag.Parse()

	log.Println("🌱 Database Seeder")
	log.Println("==================")
	log.Printf("Target: %d users, %d spaces, %d messages/space, clean=%v\n", *numUsers, *numSpaces, *perSpace, *shouldClean)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *domain == "" {
		*domain = cfg.AllowedEmailDomain
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	res, err := seed.Seed(context.Background(), db, seed.Options{
		NumUsers:         *numUsers,
		NumSpaces:        *numSpaces,
		MessagesPerSpace: *perSpace,
		Domain:           *domain,
		ShouldClean:      *shouldClean,
		Seed:             *randSeed,
	})
	if err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	log.Printf("✨ All done! Created %d users, %d spaces and %d messages.", len(res.Users), len(res.Spaces), res.Messages)
}
