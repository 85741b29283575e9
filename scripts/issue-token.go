package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/innovfix/onlycare-calls/internal/auth"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: go run scripts/issue-token.go <user-id> [ttl]\n")
		os.Exit(1)
	}

	_ = godotenv.Load()

	secret := os.Getenv("AUTH_TOKEN_SECRET")
	if secret == "" {
		fmt.Fprintf(os.Stderr, "Error: AUTH_TOKEN_SECRET is not set\n")
		os.Exit(1)
	}

	ttl := 24 * time.Hour
	if len(os.Args) > 2 {
		d, err := time.ParseDuration(os.Args[2])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid ttl: %v\n", err)
			os.Exit(1)
		}
		ttl = d
	}

	token, err := auth.IssueToken(secret, os.Args[1], ttl, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
