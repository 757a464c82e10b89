package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/emcare/forms/internal/config"
	"github.com/emcare/forms/internal/domain/bundlesync"
	"github.com/emcare/forms/internal/domain/forms"
	"github.com/emcare/forms/internal/platform/db"
	"github.com/emcare/forms/internal/platform/fhir"
	"github.com/emcare/forms/internal/platform/messaging"
)

// loadApp loads and validates configuration and wires the service.
func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, newLogger(cfg))
}

// selectTopic resolves the topic argument, falling back to DEFAULT_TOPIC.
func selectTopic(args []string, cfg *config.Config) (forms.Topic, error) {
	if len(args) > 0 {
		return forms.ParseTopic(args[0])
	}
	if cfg.DefaultTopic == "" {
		return forms.DefaultTopic, nil
	}
	return forms.ParseTopic(cfg.DefaultTopic)
}

func writeJSON(w io.Writer, v interface{}) error {
	data, err := fhir.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

func topicsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "topics",
		Short: "List the known form topics; * marks DEFAULT_TOPIC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			def, err := selectTopic(nil, cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for i, t := range forms.Topics {
				marker := " "
				if t == def {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %d %s\n", marker, i, t)
			}
			return nil
		},
	}
}

func prepareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prepare [topic]",
		Short: "Load a form and print the prepared questionnaire and response skeleton",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			topic, err := selectTopic(args, a.cfg)
			if err != nil {
				return err
			}
			s, err := a.preparer.LoadForm(ctx, topic)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), forms.PrepareResponse{
				Topic:                 string(s.Topic),
				Questionnaire:         s.Questionnaire,
				QuestionnaireResponse: s.Response,
			})
		},
	}
}

func extractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract <topic> <response.json>",
		Short: "Extract a bundle from a completed QuestionnaireResponse",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			questionnairePath, _ := cmd.Flags().GetString("questionnaire")
			upload, _ := cmd.Flags().GetBool("upload")

			ctx := cmd.Context()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			topic, err := forms.ParseTopic(args[0])
			if err != nil {
				return err
			}
			fsys := afero.NewOsFs()
			response, err := afero.ReadFile(fsys, args[1])
			if err != nil {
				return fmt.Errorf("read response: %w", err)
			}

			var s *forms.Session
			if questionnairePath != "" {
				q, err := afero.ReadFile(fsys, questionnairePath)
				if err != nil {
					return fmt.Errorf("read questionnaire: %w", err)
				}
				s, err = a.preparer.Resume(ctx, topic, q)
				if err != nil {
					return err
				}
			} else {
				s, err = a.preparer.LoadForm(ctx, topic)
				if err != nil {
					return err
				}
			}

			result := <-a.preparer.ExtractAsync(ctx, s, response)
			if result.Err != nil {
				return result.Err
			}
			if upload {
				n, err := a.uploader.Upload(ctx, result.Bundle)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "uploaded %d entries to %s\n", n, a.server.BaseURL())
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n", result.Bundle)
			return err
		},
	}
	cmd.Flags().String("questionnaire", "", "Prepared questionnaire to extract against instead of loading the topic afresh")
	cmd.Flags().Bool("upload", false, "Post the extracted bundle to the FHIR server as a transaction")
	return cmd
}

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Consume queued bundles and upload them to the FHIR server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			prefetch, _ := cmd.Flags().GetInt("prefetch")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.amqp == nil {
				return errors.New("sync requires AMQP_URL")
			}

			consumer, err := messaging.NewConsumer(a.amqp, a.cfg.SyncQueue, prefetch, a.logger)
			if err != nil {
				return err
			}
			defer consumer.Close()

			worker := bundlesync.NewWorker(a.uploader, a.logger)
			a.logger.Info().Str("queue", a.cfg.SyncQueue).Msg("sync worker started")
			err = consumer.Run(ctx, worker.Handle)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().Int("prefetch", 4, "Maximum unacknowledged messages")
	return cmd
}

func valueSetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "valuesets",
		Short: "Manage stored value sets",
	}

	importCmd := &cobra.Command{
		Use:   "import <file>...",
		Short: "Import ValueSet resources or Bundles of them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			fsys := afero.NewOsFs()
			total := 0
			for _, path := range args {
				data, err := afero.ReadFile(fsys, path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				imported, err := a.valueSets.Import(ctx, data)
				if err != nil {
					return fmt.Errorf("import %s: %w", path, err)
				}
				total += len(imported)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d value set(s).\n", total)
			return nil
		},
	}

	lookupCmd := &cobra.Command{
		Use:   "lookup <url>",
		Short: "Print the codes of a stored value set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			codes, err := a.valueSets.Lookup(ctx, args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), codes)
		},
	}

	cmd.AddCommand(importCmd, lookupCmd)
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, closeFn, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			count, err := migrator.Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, closeFn, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			statuses, err := migrator.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				state, applied := "pending", ""
				if s.Applied {
					state = "applied"
					if s.AppliedAt != nil {
						applied = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, state, applied)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func openMigrator(cmd *cobra.Command) (*db.Migrator, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, errors.New("DATABASE_URL is required for migrations")
	}
	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" {
		dir = cfg.MigrationsDir
	}

	pool, err := db.NewPool(cmd.Context(), cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return db.NewMigrator(pool, afero.NewOsFs(), dir), pool.Close, nil
}
