// Command token mints gateway bearer tokens for operators and the chat bot.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/joho/godotenv"

	pkgAuth "github.com/angelmondragon/scholarmarket-backend/pkg/auth"
	"github.com/angelmondragon/scholarmarket-backend/pkg/config"
	"github.com/angelmondragon/scholarmarket-backend/pkg/enums"
	"github.com/angelmondragon/scholarmarket-backend/pkg/logger"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "token"})

	_ = godotenv.Load()

	userID := flag.Int64("user", 0, "chat user id the token acts as")
	username := flag.String("username", "", "optional display username")
	roleFlag := flag.String("role", string(enums.RoleUser), "role: user|admin")
	ttl := flag.Duration("ttl", 0, "override token lifetime")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logg.Error(ctx, "failed to load config", err)
		os.Exit(1)
	}

	role, err := enums.ParseRole(*roleFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if role == enums.RoleAdmin && !slices.Contains(cfg.Market.Admins(), *userID) {
		fmt.Fprintf(os.Stderr, "user %d is not listed in %s_ADMIN_IDS; the api will reject this token\n", *userID, config.EnvPrefix)
		os.Exit(1)
	}

	token, err := pkgAuth.MintAccessToken(cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{
		UserID:   *userID,
		Username: *username,
		Role:     role,
		TTL:      *ttl,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to mint token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
