package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/stemsi/examhub/internal/config"
	"github.com/stemsi/examhub/internal/service"
)

// issue-token mints a candidate JWT for local testing:
//
//	go run ./cmd/issue-token -user 42
func main() {
	var userID int
	flag.IntVar(&userID, "user", 0, "Candidate user id")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	token, err := service.NewAuthService(cfg).IssueToken(userID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "Token for user %d, valid for %s:\n", userID, cfg.JWTExpiry)
	fmt.Println(token)
}
