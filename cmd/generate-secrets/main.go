package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/traillend/reservation-flow/internal/utils"
	"github.com/traillend/reservation-flow/pkg/jwt"
)

func main() {
	var (
		userID string
		ttl    time.Duration
	)
	flag.StringVar(&userID, "user", "", "mint an access/refresh token pair for this user id using JWT_SECRET")
	flag.DurationVar(&ttl, "ttl", 15*time.Minute, "access token lifetime for -user")
	flag.Parse()

	if userID == "" {
		secret, err := utils.GenerateSecret(32)
		if err != nil {
			log.Fatalf("Failed to generate secret: %v", err)
		}
		fmt.Println("Add this to your .env file (it must match the inventory backend's signing key):")
		fmt.Println()
		fmt.Printf("JWT_SECRET=%s\n", secret)
		return
	}

	_ = godotenv.Load()
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET is not set; run without -user to generate one")
	}
	refreshSecret := os.Getenv("JWT_REFRESH_SECRET")
	if refreshSecret == "" {
		refreshSecret = secret
	}

	svc := jwt.NewService(secret, refreshSecret, ttl, 24*time.Hour)
	access, err := svc.GenerateAccessToken(userID)
	if err != nil {
		log.Fatalf("Failed to sign access token: %v", err)
	}
	refresh, err := svc.GenerateRefreshToken(userID)
	if err != nil {
		log.Fatalf("Failed to sign refresh token: %v", err)
	}

	fmt.Printf("Authorization: Bearer %s\n", access)
	fmt.Printf("X-Refresh-Token: %s\n", refresh)
}
