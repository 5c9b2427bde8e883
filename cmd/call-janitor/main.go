package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"callhub-backend/internal/config"
	intDatabase "callhub-backend/internal/database"
	"callhub-backend/internal/repository/cockroach"
	"callhub-backend/pkg/audit"
	pkgDatabase "callhub-backend/pkg/database"
	"callhub-backend/pkg/env"
	"callhub-backend/pkg/jwt"
	"callhub-backend/pkg/logger"
)

func main() {
	logger.InitDefault()
	defer logger.Sync()

	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "call-janitor",
		Short:         "Maintenance tasks for the call service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newMigrateCmd())
	root.AddCommand(newSweepLinksCmd())
	root.AddCommand(newIssueTokenCmd())
	root.AddCommand(newAuditCmd())
	return root
}

func connect(ctx context.Context) (*pkgDatabase.CockroachDB, error) {
	dbConfig := config.LoadDatabase()
	return pkgDatabase.ConnectCockroachWithRetry(ctx, dbConfig.Cockroach(), dbConfig.ConnectTries)
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the call schema to CockroachDB",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, err := connect(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := cockroach.Migrate(ctx, db.Pool); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "applied %d schema statements\n", len(cockroach.Schema))
			return nil
		},
	}
}

func newSweepLinksCmd() *cobra.Command {
	var every time.Duration

	cmd := &cobra.Command{
		Use:   "sweep-links",
		Short: "Delete expired call links",
		Long:  "Delete expired call links once, or repeatedly with --every until interrupted.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			db, err := connect(ctx)
			if err != nil {
				return err
			}
			defer db.Close()
			links := cockroach.NewLinkRepository(db.Pool)

			sweep := func() error {
				deleted, err := links.DeleteExpired(ctx, time.Now().UTC())
				if err != nil {
					return err
				}
				logger.Info("Swept expired call links", zap.Int64("deleted", deleted))
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted %d expired links\n", deleted)
				return nil
			}

			if every <= 0 {
				return sweep()
			}

			ticker := time.NewTicker(every)
			defer ticker.Stop()
			for {
				if err := sweep(); err != nil {
					logger.Warn("Sweep failed", zap.Error(err))
				}
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}
	cmd.Flags().DurationVar(&every, "every", 0, "repeat the sweep at this interval (0 runs once)")
	return cmd
}

func newIssueTokenCmd() *cobra.Command {
	var (
		userID   string
		username string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Mint an access token for local testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if env.GetString("ENV", "development") == "production" {
				return fmt.Errorf("issue-token is disabled in production")
			}
			secret := env.GetStringFromFile("JWT_SECRET", "")
			if secret == "" {
				return fmt.Errorf("JWT_SECRET must be set")
			}

			id := uuid.New()
			if userID != "" {
				parsed, err := uuid.Parse(userID)
				if err != nil {
					return fmt.Errorf("invalid --user-id: %w", err)
				}
				id = parsed
			}

			manager := jwt.NewJWTManager(secret, env.GetString("JWT_AUDIENCE", "callhub"), ttl)
			token, err := manager.GenerateAccessToken(id, username, "user")
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "user_id=%s\n%s\n", id, token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "user id (random when empty)")
	cmd.Flags().StringVar(&username, "username", "tester", "username claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func newAuditCmd() *cobra.Command {
	var (
		date   string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print the link audit trail of one day as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			day := time.Now().UTC()
			if date != "" {
				parsed, err := time.Parse("2006-01-02", date)
				if err != nil {
					return fmt.Errorf("invalid --date: %w", err)
				}
				day = parsed
			}

			redisDB := intDatabase.NewRedisDB(cmd.Context(), config.LoadRedis().Client())
			defer redisDB.Close()
			if redisDB.IsDegraded() {
				return fmt.Errorf("redis is unavailable")
			}

			events, err := audit.NewAuditLogger(audit.NewRedisStore(redisDB.Client)).GetEventsByDate(cmd.Context(), day, limit, offset)
			if err != nil {
				return err
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			for _, event := range events {
				if err := encoder.Encode(event); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "UTC day as YYYY-MM-DD (today when empty)")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of events")
	cmd.Flags().IntVar(&offset, "offset", 0, "events to skip, newest first")
	return cmd
}
