// Command relaytoken mints a bearer token accepted by the relay's JWT
// validator, for local testing.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"chat-relay/auth"
	"chat-relay/core"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	_ = godotenv.Load()

	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "HMAC secret (defaults to JWT_SECRET).")
	userID := flag.String("user", "", "User id to put in the subject claim.")
	name := flag.String("name", "", "Optional display name; registers or renames the user on connect.")
	ttl := flag.Duration("ttl", 24*time.Hour, "Token lifetime.")
	flag.Parse()

	if *secret == "" || *userID == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *ttl <= 0 {
		logrus.Fatal("ttl must be positive")
	}

	token, err := auth.IssueToken(*secret, &core.User{ID: *userID, Name: *name}, *ttl)
	if err != nil {
		logrus.WithField("error", err).Fatal("Failed to sign token")
	}
	fmt.Println(token)
}
