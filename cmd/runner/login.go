package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/stemsi/exstem-runner/internal/backend"
	"github.com/stemsi/exstem-runner/internal/config"
	"github.com/stemsi/exstem-runner/internal/logger"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Log in as a student and store the token on this machine",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

			// ─── CLI Input ─────────────────────────────────────────────
			reader := bufio.NewReader(os.Stdin)

			fmt.Println("=== ExStem Student Login ===")

			fmt.Print("Enter NISN: ")
			nisn, _ := reader.ReadString('\n')
			nisn = strings.TrimSpace(nisn)
			if nisn == "" {
				return errors.New("NISN is required")
			}

			fmt.Print("Enter Password: ")
			bytePassword, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Println() // Newline after password input
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			password := string(bytePassword)
			if password == "" {
				return errors.New("password is required")
			}

			// ─── Logic ─────────────────────────────────────────────────
			tokens := backend.NewTokenSource("", cfg.TokenFile)
			client := backend.NewClient(cfg.BackendURL, cfg.HTTPTimeout, tokens, log)

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.HTTPTimeout)
			defer cancel()

			token, err := client.Login(ctx, nisn, password)
			if err != nil {
				if apiErr, ok := backend.AsAPIError(err); ok && apiErr.Unauthorized() {
					return errors.New("invalid NISN or password")
				}
				return fmt.Errorf("login: %w", err)
			}
			if err := tokens.Save(token); err != nil {
				return err
			}

			fmt.Printf("Logged in. Token stored in %s\n", cfg.TokenFile)
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored student token",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg := config.Load()
			if err := backend.NewTokenSource("", cfg.TokenFile).Clear(); err != nil {
				return err
			}
			fmt.Println("Logged out.")
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a usable student token is stored",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg := config.Load()
			claims, err := backend.NewTokenSource(cfg.Token, cfg.TokenFile).Claims()
			if err != nil {
				fmt.Printf("Not authenticated: %v\n", err)
				return nil
			}
			if claims.ExpiresAt != nil {
				fmt.Printf("Authenticated as student %d, token expires %s\n",
					claims.UserID, claims.ExpiresAt.Time.Local().Format("2006-01-02 15:04"))
				return nil
			}
			fmt.Printf("Authenticated as student %d\n", claims.UserID)
			return nil
		},
	}
}
