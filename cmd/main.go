package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/victornm/gema/internal/config"
	"github.com/victornm/gema/internal/domain"
	"github.com/victornm/gema/internal/identity"
	"github.com/victornm/gema/internal/server"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "gema",
		Short:        "GEMA quiz session service",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "", "config file (defaults to $CONFIG_PATH)")

	root.AddCommand(serveCmd(), migrateCmd(), tokenCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and gRPC servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			s, err := server.Init(c)
			if err != nil {
				return fmt.Errorf("init server: %w", err)
			}

			shutdown := make(chan os.Signal, 1)
			signal.Notify(shutdown, syscall.SIGTERM, os.Interrupt)

			errc := make(chan error, 1)
			go func() { errc <- s.Start() }()

			select {
			case <-shutdown:
			case err = <-errc:
			}
			s.Shutdown()
			return err
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			st, err := server.OpenStore(ctx, c)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			if err := st.Migrate(ctx); err != nil {
				return err
			}

			slog.InfoContext(ctx, "migrate: schema applied", "driver", c.Store.Driver)
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for an identity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			f := cmd.Flags()
			id, _ := f.GetString("id")
			name, _ := f.GetString("name")
			role, _ := f.GetString("role")
			studentID, _ := f.GetString("student-id")

			r, err := identity.NewResolver(identity.Config{
				Secret: c.Auth.JWTSecret,
				TTL:    c.Auth.TokenTTL,
			})
			if err != nil {
				return err
			}

			tok, err := r.Issue(domain.Identity{
				ID:        id,
				Name:      name,
				Role:      domain.Role(strings.ToUpper(role)),
				StudentID: studentID,
			})
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}

	f := cmd.Flags()
	f.String("id", "", "identity id (required)")
	f.String("name", "", "display name")
	f.String("role", string(domain.RoleTeacher), "role: ADMIN, TEACHER or STUDENT")
	f.String("student-id", "", "linked student id for STUDENT identities")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

// loadConfig reads .env, then the config file, then sets up the default logger.
func loadConfig(cmd *cobra.Command) (server.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return server.Config{}, fmt.Errorf("load .env: %w", err)
	}

	p, _ := cmd.Flags().GetString("config")
	if p == "" {
		p = os.Getenv("CONFIG_PATH")
	}

	c := server.DefaultConfig()
	if err := config.Load(p, &c); err != nil {
		return c, fmt.Errorf("load config: %w", err)
	}

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return c, fmt.Errorf("log level: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))

	return c, nil
}
