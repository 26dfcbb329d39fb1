// Command seeduser creates a credential record, or resets its password when a
// record with that name already exists.
//
// Usage:
//
//	seeduser -name alice            # password prompted
//	SEED_PASSWORD=... seeduser -name alice
//
// The record store is chosen with DB_DRIVER, DB_PATH and DB_DSN as for the
// server; a .env file in the working directory is honored.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/tbourn/go-chat-relay/internal/repo"
	"github.com/tbourn/go-chat-relay/internal/services"
	"github.com/tbourn/go-chat-relay/internal/sysutil"
)

func main() {
	_ = godotenv.Load()
	sysutil.InitLogger(os.Stderr, sysutil.FirstNonEmpty(os.Getenv("LOG_LEVEL"), "info"), true)

	defCost, _ := strconv.Atoi(os.Getenv("BCRYPT_COST"))
	if defCost == 0 {
		defCost = 12
	}
	defDriver := strings.ToLower(sysutil.FirstNonEmpty(os.Getenv("DB_DRIVER"), "sqlite"))
	defTarget := sysutil.FirstNonEmpty(os.Getenv("DB_PATH"), "app.db")
	if defDriver == "postgres" {
		defTarget = os.Getenv("DB_DSN")
	}

	name := flag.String("name", "", "login name")
	driver := flag.String("driver", defDriver, "sqlite|postgres")
	target := flag.String("db", defTarget, "SQLite path or Postgres DSN")
	cost := flag.Int("cost", defCost, "bcrypt cost")
	flag.Parse()

	if err := run(*name, *driver, *target, *cost); err != nil {
		log.Fatal().Err(err).Msg("seeduser")
	}
}

func run(name, driver, target string, cost int) error {
	name = services.NormalizeName(name)
	if name == "" {
		return errors.New("-name is required")
	}

	password := os.Getenv("SEED_PASSWORD")
	if password == "" {
		fmt.Fprint(os.Stderr, "Password: ")
		pw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		password = string(pw)
	}
	if strings.TrimSpace(password) == "" {
		return errors.New("password must not be empty")
	}

	hash, err := services.HashPassword(password, cost)
	if err != nil {
		return err
	}

	db, err := repo.OpenDB(strings.ToLower(driver), target)
	if err != nil {
		return fmt.Errorf("open record store: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	u, created, err := repo.SetPasswordHash(ctx, db, name, hash)
	if err != nil {
		return err
	}
	if created {
		log.Info().Int64("id", u.ID).Str("name", u.Name).Msg("user created")
	} else {
		log.Info().Int64("id", u.ID).Str("name", u.Name).Msg("password reset")
	}
	return nil
}
