package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/pflag"

	"tokenauth/internal/config"
	"tokenauth/internal/domain/models"
	"tokenauth/internal/lib/password"
	"tokenauth/internal/storage"
	"tokenauth/internal/storage/mongodb"
	"tokenauth/internal/storage/sqlite"
)

type userSaver interface {
	SaveUser(ctx context.Context, user models.User) (int64, error)
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	var (
		configPath      string
		migrationsTable string
		seedUsername    string
		seedEmail       string
		seedPassword    string
	)

	flagSet := pflag.NewFlagSet("migrator", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to config file (or use CONFIG_PATH env)")
	flagSet.StringVar(&migrationsTable, "migrations-table", "migrations", "name of the sqlite migrations table")
	flagSet.StringVar(&seedUsername, "seed-username", "", "create this user after migrating")
	flagSet.StringVar(&seedEmail, "seed-email", "", "e-mail of the seeded user")
	flagSet.StringVar(&seedPassword, "seed-password", "", "password of the seeded user")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}
	if configPath == "" {
		return errors.New("config path is required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var users userSaver

	switch cfg.Storage.Driver {
	case config.StorageSQLite:
		changed, err := sqlite.Migrate(cfg.Storage.Path, migrationsTable)
		if err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		if changed {
			log.Println("migrations applied")
		} else {
			log.Println("no migrations to apply")
		}

		s, err := sqlite.New(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("failed to open sqlite: %w", err)
		}
		defer s.Close()
		users = s

	case config.StorageMongo:
		log.Println("Connecting to MongoDB...")

		s, err := mongodb.New(ctx, cfg.Storage.MongoURI, cfg.Storage.MongoDatabase)
		if err != nil {
			return fmt.Errorf("failed to connect to mongodb: %w", err)
		}
		defer s.Close(ctx)
		users = s

		log.Println("MongoDB connected, indexes created successfully")
	}

	if seedUsername != "" {
		if err := seed(ctx, users, cfg.Auth.BcryptCost, seedUsername, seedEmail, seedPassword); err != nil {
			return fmt.Errorf("failed to seed user: %w", err)
		}
	}

	fmt.Println("Database initialization completed successfully")
	return nil
}

func seed(ctx context.Context, users userSaver, cost int, username, email, pass string) error {
	if email == "" || pass == "" {
		return errors.New("--seed-email and --seed-password are required with --seed-username")
	}

	hasher, err := password.New(cost)
	if err != nil {
		return err
	}
	hash, err := hasher.Hash(pass)
	if err != nil {
		return err
	}

	id, err := users.SaveUser(ctx, models.User{
		Username: username,
		Email:    email,
		PassHash: hash,
	})
	if errors.Is(err, storage.ErrUserAlreadyExists) {
		log.Printf("user %s already exists, skipping", username)
		return nil
	}
	if err != nil {
		return err
	}

	log.Printf("user seeded (id=%d, username=%s)", id, username)
	return nil
}
