package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/meddigitize/meddigitize/internal/config"
	"github.com/meddigitize/meddigitize/internal/domain/audit"
	"github.com/meddigitize/meddigitize/internal/domain/identity"
	"github.com/meddigitize/meddigitize/internal/domain/records"
	"github.com/meddigitize/meddigitize/internal/extraction"
	"github.com/meddigitize/meddigitize/internal/legacy"
	"github.com/meddigitize/meddigitize/internal/platform/blobstore"
	"github.com/meddigitize/meddigitize/internal/platform/db"
	"github.com/meddigitize/meddigitize/internal/platform/ocr"
	"github.com/meddigitize/meddigitize/migrations"
)

const defaultSchema = "public"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "meddigitize",
		Short:        "Medical record digitization API",
		SilenceUsage: true,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(importLegacyCmd())
	root.AddCommand(extractCmd())
	root.AddCommand(resetAdminCmd())
	return root
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func openPool(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns:     cfg.DBMaxConns,
		MinConns:     cfg.DBMinConns,
		PingAttempts: 5,
		PingBackoff:  2 * time.Second,
		Logger:       logger,
	})
}

func serveCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply pending migrations before serving")
	return cmd
}

// migrationsFS uses dir when given and the embedded schema otherwise.
func migrationsFS(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
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
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg, newLogger(cfg.Env))
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)
			count, err := db.NewMigrator(pool, migrationsFS(dir)).Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", defaultSchema, "Target schema for migrations")
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg, newLogger(cfg.Env))
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationsFS(dir)).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Migration status for schema: %s\n", schema)
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", defaultSchema, "Target schema for migrations")
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func importLegacyCmd() *cobra.Command {
	var dsn, owner string
	cmd := &cobra.Command{
		Use:   "import-legacy",
		Short: "Copy records from the legacy MySQL database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dsn == "" {
				dsn = cfg.LegacyMySQLDSN
			}
			if dsn == "" {
				return fmt.Errorf("--dsn or LEGACY_MYSQL_DSN is required")
			}
			logger := newLogger(cfg.Env)

			ctx := context.Background()
			pool, err := openPool(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			src, err := legacy.OpenMySQL(ctx, dsn)
			if err != nil {
				return err
			}
			defer src.Close()

			auditSvc := audit.NewService(audit.NewRepoPG(pool), logger)
			recordSvc := records.NewService(records.NewRecordRepoPG(pool), auditSvc, nil, logger)
			im := legacy.NewImporter(src, recordSvc, identity.NewUserRepoPG(pool), logger)

			rep, err := im.Run(ctx, owner)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d record(s), skipped %d.\n", rep.Imported, rep.Skipped)
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "MySQL DSN, e.g. user:pass@tcp(localhost:3306)/meddigitize?parseTime=true")
	cmd.Flags().StringVar(&owner, "owner", "admin", "Username that will own the imported records")
	return cmd
}

// extractResult is what the extract command prints.
type extractResult struct {
	Text       string            `json:"text"`
	Confidence float64           `json:"confidence,omitempty"`
	Engine     string            `json:"engine,omitempty"`
	Fields     extraction.Fields `json:"fields"`
	Vitals     extraction.Vitals `json:"vitals"`
}

func extractCmd() *cobra.Command {
	var ocrURL, langs string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "extract <file>",
		Short: "Print the fields found in a scan or a .txt transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}

			res := ocr.Result{Text: string(data)}
			if !strings.EqualFold(filepath.Ext(path), ".txt") {
				if !blobstore.Allowed(path) {
					return blobstore.ErrUnsupportedExtension
				}
				cfg := &config.Config{OCRServiceURL: ocrURL}
				logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
				rec := ocr.NewRecognizer(newOCREngine(cfg), strings.Split(langs, "+"), timeout, logger)
				res, err = rec.Recognize(cmd.Context(), filepath.Base(path), data)
				if err != nil {
					return err
				}
			}

			return writeJSON(cmd, extractResult{
				Text:       res.Text,
				Confidence: res.Confidence,
				Engine:     res.Engine,
				Fields:     extraction.ExtractFields(res.Text),
				Vitals:     extraction.ExtractVitals(res.Text),
			})
		},
	}
	cmd.Flags().StringVar(&ocrURL, "ocr-url", os.Getenv("OCR_SERVICE_URL"), "Remote OCR service; empty uses tesseract")
	cmd.Flags().StringVar(&langs, "lang", "eng", "Tesseract languages joined by +")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "OCR timeout")
	return cmd
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func resetAdminCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-admin",
		Short: "Restore the built-in admin account from ADMIN_PASSWORD",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Env)

			ctx := context.Background()
			pool, err := openPool(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			repos := pgRepositories(pool, repositories{
				users:   identity.NewUserRepoPG(pool),
				doctors: identity.NewDoctorRepoPG(pool),
				audit:   audit.NewRepoPG(pool),
			})
			svc := identity.NewService(repos.users, repos.doctors, audit.NewService(repos.audit, logger), nil,
				identity.Options{AdminPassword: cfg.AdminPassword, WithTx: repos.withTx}, logger)
			if err := svc.ResetAdmin(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Admin account reset.")
			return nil
		},
	}
}
