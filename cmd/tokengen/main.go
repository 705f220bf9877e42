// Command tokengen prints a bearer token for an existing user id, signed with
// the server's configured secret.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"todo-api/internal/auth"
	"todo-api/internal/config"
)

func main() {
	userID := flag.Int64("user", 0, "user id to issue the token for")
	ttl := flag.Duration("ttl", 0, "token lifetime (defaults to auth.tokenttlminutes)")
	flag.Parse()

	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	if *userID <= 0 {
		logger.Fatal("-user is required")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	lifetime := cfg.TokenTTL()
	if *ttl > 0 {
		lifetime = *ttl
	}

	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, lifetime, cfg.Auth.Issuer)
	if err != nil {
		logger.Fatalf("setup tokens: %v", err)
	}
	token, err := tokens.Issue(*userID)
	if err != nil {
		logger.Fatalf("issue token: %v", err)
	}

	logger.Infof("token for user %d expires at %s", *userID, token.ExpiresAt.Format(time.RFC3339))
	fmt.Println(token.Value)
}
