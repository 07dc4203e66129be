// Package seed provides database seeding utilities for development and testing.
package seed

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strings"

	"spacechat/internal/models"
	"spacechat/internal/repository"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"
)

// Options configuration for the seeder
type Options struct {
	NumUsers         int
	NumSpaces        int
	MessagesPerSpace int
	Domain           string
	ShouldClean      bool
	// Seed fixes the random source so runs are reproducible. Zero picks one.
	Seed int64
}

// Result reports what a seeding run created.
type Result struct {
	Users    []models.User
	Spaces   []models.Space
	Messages int
}

var spaceNames = []string{
	"General", "Movies", "Music", "Television", "Gaming",
	"Fitness", "Hobbies", "Sports", "Technology",
	"Anime", "Books", "Food", "Travel", "Programming", "Linux", "Homelab",
	"Art", "History", "Philosophy", "Science", "Pets", "Finance",
}

// Seed populates the database with demo users, spaces and messages. Writes go
// through the repositories so member counts and message sequence numbers are
// the same as for live traffic.
func Seed(ctx context.Context, db *gorm.DB, opts Options) (*Result, error) {
	if opts.Domain == "" {
		opts.Domain = "example.com"
	}
	if opts.Seed == 0 {
		opts.Seed = rand.Int63()
	}
	faker := gofakeit.New(opts.Seed)
	//nolint:gosec // Weak random number generator is fine for seeding
	r := rand.New(rand.NewSource(opts.Seed))

	log.Printf("Starting database seeding with %d users, %d spaces, %d messages per space...",
		opts.NumUsers, opts.NumSpaces, opts.MessagesPerSpace)

	if opts.ShouldClean {
		if err := clearData(db); err != nil {
			log.Printf("Warning: could not clear all existing data, continuing anyway: %v", err)
		}
	}

	users := repository.NewUserRepository(db)
	spaces := repository.NewSpaceRepository(db, repository.DefaultTxAttempts)
	messages := repository.NewMessageRepository(db, repository.DefaultTxAttempts)

	result := &Result{}

	created, err := createUsers(ctx, users, faker, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create users: %w", err)
	}
	result.Users = created
	log.Printf("%d users created", len(created))
	if len(created) == 0 {
		return result, nil
	}

	for i := 0; i < opts.NumSpaces && i < len(spaceNames); i++ {
		creator := created[r.Intn(len(created))]
		space := &models.Space{
			Name:        spaceNames[i],
			Description: faker.Sentence(8),
			CreatedBy:   creator.Email,
			CreatorName: creator.DisplayName(),
		}
		if err := spaces.Create(ctx, space); err != nil {
			if models.HasCode(err, models.CodeDuplicateName) {
				continue
			}
			return nil, fmt.Errorf("failed to create space %s: %w", space.Name, err)
		}

		members := []models.User{creator}
		for _, u := range created {
			if u.Email == creator.Email || r.Intn(2) == 0 {
				continue
			}
			joined, err := spaces.AddMember(ctx, space.ID, u.Email)
			if err != nil {
				return nil, fmt.Errorf("failed to join %s to %s: %w", u.Email, space.Name, err)
			}
			space = joined
			members = append(members, u)
		}

		for j := 0; j < opts.MessagesPerSpace; j++ {
			sender := members[r.Intn(len(members))]
			msg := &models.Message{
				SpaceID:    space.ID,
				Body:       faker.Sentence(r.Intn(12) + 3),
				SenderID:   sender.Email,
				SenderName: sender.DisplayName(),
			}
			if err := messages.Create(ctx, msg); err != nil {
				return nil, fmt.Errorf("failed to create message in %s: %w", space.Name, err)
			}
			result.Messages++
		}
		result.Spaces = append(result.Spaces, *space)
	}

	log.Printf("%d spaces and %d messages created", len(result.Spaces), result.Messages)
	return result, nil
}

func createUsers(ctx context.Context, users repository.UserRepository, faker *gofakeit.Faker, opts Options) ([]models.User, error) {
	out := make([]models.User, 0, opts.NumUsers)
	seen := make(map[string]bool, opts.NumUsers)

	for len(out) < opts.NumUsers {
		first, last := faker.FirstName(), faker.LastName()
		local := strings.ToLower(first + "." + last)
		email := fmt.Sprintf("%s@%s", local, opts.Domain)
		if seen[email] {
			email = fmt.Sprintf("%s%d@%s", local, len(out), opts.Domain)
		}
		seen[email] = true

		user := &models.User{Email: email, FirstName: first, LastName: last}
		if err := users.Create(ctx, user); err != nil {
			if models.HasCode(err, models.CodeValidation) {
				continue
			}
			return nil, err
		}
		out = append(out, *user)
	}
	return out, nil
}

func clearData(db *gorm.DB) error {
	log.Println("Clearing existing data...")
	return db.Transaction(func(tx *gorm.DB) error {
		tx = tx.Session(&gorm.Session{AllowGlobalUpdate: true})
		for _, model := range []any{
			&models.MessageLike{},
			&models.ModerationEvent{},
			&models.Message{},
			&models.SpaceMember{},
			&models.Space{},
			&models.User{},
		} {
			if err := tx.Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
