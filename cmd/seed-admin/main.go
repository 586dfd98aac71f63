package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/forkful/gateway/internal/session"
	"github.com/forkful/gateway/internal/signedkey"
	"github.com/forkful/gateway/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		username    string
		email       string
		password    string
		keySecret   string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&username, "username", "admin", "admin account username")
	flag.StringVar(&email, "email", "", "admin account email address")
	flag.StringVar(&password, "password", "", "admin account password (or GATEWAY_SEED_PASSWORD env)")
	flag.StringVar(&keySecret, "key-secret", "", "HMAC secret for signed API keys; when set, a key for the new account is printed (or GATEWAY_KEY_SECRET env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if password == "" {
		password = os.Getenv("GATEWAY_SEED_PASSWORD")
	}
	if email == "" || password == "" {
		slog.Error("email and password are required: set --email and --password")
		os.Exit(1)
	}
	if keySecret == "" {
		keySecret = os.Getenv("GATEWAY_KEY_SECRET")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, username, email, password, keySecret); err != nil {
		slog.Error("Seed failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, databaseURL, username, email, password, keySecret string) error {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(err, "hash password")
	}

	user := session.User{
		ID:            uuid.NewString(),
		Username:      username,
		Email:         email,
		PasswordHash:  string(hash),
		Role:          "admin",
		EmailVerified: true,
	}
	if err := postgres.NewUserRepository(pool).Create(ctx, user); err != nil {
		if errors.Is(err, session.ErrDuplicate) {
			return errors.New("an account with that username or email already exists")
		}
		return errors.Wrap(err, "create admin user")
	}
	slog.Info("Admin account created", "id", user.ID, "username", user.Username)

	if keySecret != "" {
		key, err := signedkey.New([]byte(keySecret)).Generate(user.ID)
		if err != nil {
			return errors.Wrap(err, "generate signed key")
		}
		slog.Info("Signed API key issued", "key", key)
	}
	return nil
}
