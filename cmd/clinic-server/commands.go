package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinic/registry/internal/config"
	"github.com/clinic/registry/internal/domain/patient"
	"github.com/clinic/registry/internal/platform/backup"
	"github.com/clinic/registry/internal/platform/db"
	"github.com/clinic/registry/migrations"
)

// withPool loads configuration, connects to the database and hands both to
// fn. The pool is closed when fn returns.
func withPool(ctx context.Context, fn func(ctx context.Context, cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	return fn(ctx, cfg, logger, pool)
}

// migrationsFS picks the --dir flag, then MIGRATIONS_DIR when it exists on
// disk, then the migrations embedded in the binary.
func migrationsFS(flagDir, cfgDir string) fs.FS {
	if flagDir != "" {
		return os.DirFS(flagDir)
	}
	if info, err := os.Stat(cfgDir); err == nil && info.IsDir() {
		return os.DirFS(cfgDir)
	}
	return migrations.FS
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
			dir, _ := cmd.Flags().GetString("dir")
			return withPool(cmd.Context(), func(ctx context.Context, cfg *config.Config, _ zerolog.Logger, pool *pgxpool.Pool) error {
				count, err := db.NewMigrator(pool, migrationsFS(dir, cfg.MigrationsDir)).Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "", "Migrations directory (overrides MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withPool(cmd.Context(), func(ctx context.Context, cfg *config.Config, _ zerolog.Logger, pool *pgxpool.Pool) error {
				statuses, err := db.NewMigrator(pool, migrationsFS(dir, cfg.MigrationsDir)).Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printMigrationStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Migrations directory (overrides MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert demo patients with visit histories",
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			return withPool(cmd.Context(), func(ctx context.Context, cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool) error {
				res, err := newPatientService(cfg, pool, logger).Seed(ctx, force)
				if err != nil {
					return err
				}
				if res.Skipped {
					fmt.Fprintln(cmd.OutOrStdout(), "Database already has patients; use --force to seed anyway.")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d patients with %d visits.\n", res.Patients, res.Visits)
				return nil
			})
		},
	}
	cmd.Flags().Bool("force", false, "Seed even when patients already exist")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every patient with its visits as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			return withPool(cmd.Context(), func(ctx context.Context, cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool) error {
				svc := newPatientService(cfg, pool, logger)
				if out == "" || out == "-" {
					return svc.WriteExport(ctx, cmd.OutOrStdout())
				}
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create %s: %w", out, err)
				}
				if err := svc.WriteExport(ctx, f); err != nil {
					_ = f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				logger.Info().Str("file", out).Msg("export written")
				return nil
			})
		},
	}
	cmd.Flags().StringP("out", "o", "", "Output file (default stdout)")
	return cmd
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import patients from an export file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer f.Close()

			doc, err := patient.ReadExport(f)
			if err != nil {
				return err
			}
			return withPool(cmd.Context(), func(ctx context.Context, cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool) error {
				res, err := newPatientService(cfg, pool, logger).Import(ctx, doc)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d, skipped %d, failed %d.\n", res.Imported, res.Skipped, len(res.Failed))
				for _, f := range res.Failed {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s\n", f.ID, f.Error)
				}
				if len(res.Failed) > 0 {
					return fmt.Errorf("%d patient(s) failed to import", len(res.Failed))
				}
				return nil
			})
		},
	}
}

func backupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Store an export in the backup directory or S3 bucket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd.Context(), func(ctx context.Context, cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool) error {
				runner, err := newBackupRunner(ctx, cfg)
				if err != nil {
					return err
				}
				svc := newPatientService(cfg, pool, logger)
				obj, err := runner.Run(ctx, func(w io.Writer) error {
					return svc.WriteExport(ctx, w)
				})
				if obj != nil {
					logger.Info().
						Str("location", obj.Location).
						Int64("size", obj.Size).
						Str("sha256", obj.SHA256).
						Msg("backup stored")
					fmt.Fprintln(cmd.OutOrStdout(), obj.Location)
				}
				return err
			})
		},
	}
}

// newBackupRunner stores to S3 when BACKUP_BUCKET is set and to
// BACKUP_DIR otherwise. BACKUP_QUEUE adds an SQS notification.
func newBackupRunner(ctx context.Context, cfg *config.Config) (*backup.Runner, error) {
	if cfg.BackupBucket == "" {
		return backup.NewRunner(backup.NewLocalStore(cfg.BackupDir), nil), nil
	}

	s3Client, sqsClient, err := backup.NewAWSClients(ctx)
	if err != nil {
		return nil, err
	}
	var notifier backup.Notifier = backup.NopNotifier{}
	if cfg.BackupQueue != "" {
		n, err := backup.NewSQSNotifier(ctx, sqsClient, cfg.BackupQueue)
		if err != nil {
			return nil, err
		}
		notifier = n
	}
	return backup.NewRunner(backup.NewS3Store(s3Client, cfg.BackupBucket, ""), notifier), nil
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute every patient's visit count from its visits",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd.Context(), func(ctx context.Context, cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool) error {
				n, err := newPatientService(cfg, pool, logger).ReconcileAll(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Repaired %d visit count(s).\n", n)
				return nil
			})
		},
	}
}

func dbcheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dbcheck",
		Short: "Check database connectivity and print table counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd.Context(), func(ctx context.Context, _ *config.Config, _ zerolog.Logger, pool *pgxpool.Pool) error {
				if err := pool.Ping(ctx); err != nil {
					return db.Classify(fmt.Errorf("ping: %w", err))
				}
				var serverVersion string
				if err := pool.QueryRow(ctx, `SELECT version()`).Scan(&serverVersion); err != nil {
					return db.Classify(fmt.Errorf("server version: %w", err))
				}

				w := cmd.OutOrStdout()
				fmt.Fprintln(w, "Connection: ok")
				fmt.Fprintf(w, "Server:     %s\n", serverVersion)
				for _, table := range []string{"patients", "visits"} {
					var n int64
					if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
						fmt.Fprintf(w, "%-11s missing (%v)\n", table+":", err)
						continue
					}
					fmt.Fprintf(w, "%-11s %d rows\n", table+":", n)
				}
				return nil
			})
		},
	}
}
