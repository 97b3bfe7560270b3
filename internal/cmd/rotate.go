package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/kms"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/strongroomhq/strongroom/internal"
	"github.com/strongroomhq/strongroom/internal/logging"
	"github.com/strongroomhq/strongroom/internal/server/audit"
	"github.com/strongroomhq/strongroom/internal/server/data"
	"github.com/strongroomhq/strongroom/internal/server/encryption"
	"github.com/strongroomhq/strongroom/internal/server/models"
	"github.com/strongroomhq/strongroom/metrics"
	"github.com/strongroomhq/strongroom/secrets"
	"github.com/strongroomhq/strongroom/uid"
)

type awsKMSOptions struct {
	KeyID  string `mapstructure:"keyID"`
	Region string `mapstructure:"region"`
}

type rotateOptions struct {
	internal.GlobalOptions `mapstructure:",squash"`

	DBFile       string `mapstructure:"db-file"`
	DBConnection string `mapstructure:"db-connection"`
	MetricsAddr  string `mapstructure:"metrics-addr"`

	Tenant    string `mapstructure:"tenant"`
	BatchSize int    `mapstructure:"batch-size"`
	Resume    bool   `mapstructure:"resume"`

	Encryption encryption.Options  `mapstructure:"encryption"`
	Vault      secrets.VaultConfig `mapstructure:"vault"`
	AWSKMS     awsKMSOptions       `mapstructure:"awskms"`
}

func newRotateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Rotate a tenant's encryption key and re-encrypt its artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			options := rotateOptions{
				Encryption: encryption.DefaultOptions(),
				Vault:      secrets.NewVaultConfig(),
			}
			if err := internal.ParseOptions(cmd, &options); err != nil {
				return err
			}

			if options.Tenant == "" {
				return errors.New("missing required flag: --tenant")
			}

			tenantID, err := uid.Parse([]byte(options.Tenant))
			if err != nil {
				return fmt.Errorf("invalid tenant id %q: %w", options.Tenant, err)
			}

			return runRotate(cmd.Context(), options, tenantID)
		},
	}

	cmd.Flags().String("tenant", "", "Tenant ID")
	cmd.Flags().Int("batch-size", 0, "Blobs to migrate per batch")
	cmd.Flags().Bool("resume", false, "Resume the tenant's paused rotation job instead of starting a new one")
	cmd.Flags().String("db-file", "$HOME/.strongroom/strongroom.db", "Path to SQLite database")
	cmd.Flags().String("db-connection", "", "PostgreSQL connection string, takes precedence over db-file")
	cmd.Flags().String("metrics-addr", "", "Serve prometheus metrics on this address for the duration of the run")

	return cmd
}

func runRotate(ctx context.Context, options rotateOptions, tenantID uid.ID) error {
	db, err := openDB(options)
	if err != nil {
		return err
	}

	svc, reporter, err := newService(db, options)
	if err != nil {
		return err
	}

	reporterCtx, cancel := context.WithCancel(context.Background())
	reporter.Start(reporterCtx)
	defer reporter.Wait()
	defer cancel()

	if options.MetricsAddr != "" {
		shutdown := serveMetrics(options.MetricsAddr)
		defer shutdown()
	}

	job, err := resolveJob(svc, db, tenantID, options.Resume)
	if err != nil {
		return err
	}

	if err := svc.RunRotationJob(ctx, job, options.BatchSize); err != nil {
		return err
	}

	logging.S.Infof("rotation job %v for tenant %v: %v (%d/%d migrated, %d failed)",
		job.ID, tenantID, job.Status, job.ProcessedItems, job.TotalItems, job.FailedItems)

	return nil
}

func resolveJob(svc *encryption.Service, db *gorm.DB, tenantID uid.ID, resume bool) (*models.KeyRotationJob, error) {
	if resume {
		job, err := data.GetPendingRotationJob(db, tenantID)
		if err != nil {
			return nil, fmt.Errorf("no rotation job to resume: %w", err)
		}
		if err := svc.ResumeRotationJob(job); err != nil {
			return nil, err
		}
		return job, nil
	}

	fromKey, err := svc.GetActiveKey(tenantID)
	if err != nil {
		return nil, err
	}

	toKey, err := svc.RotateKey(tenantID, "operator", "cli", "operator initiated rotation")
	if err != nil {
		return nil, err
	}

	return svc.CreateRotationJob(tenantID, fromKey.ID, toKey.ID)
}

func openDB(options rotateOptions) (*gorm.DB, error) {
	if options.DBConnection != "" {
		driver, err := data.NewPostgresDriver(options.DBConnection)
		if err != nil {
			return nil, err
		}
		return data.NewDB(driver)
	}

	dbFile, err := canonicalPath(options.DBFile)
	if err != nil {
		return nil, err
	}

	driver, err := data.NewSQLiteDriver(dbFile)
	if err != nil {
		return nil, err
	}
	return data.NewDB(driver)
}

func newService(db *gorm.DB, options rotateOptions) (*encryption.Service, *audit.Reporter, error) {
	registry, err := buildProviders(options)
	if err != nil {
		return nil, nil, err
	}

	storePath, err := canonicalPath(options.Encryption.ExternalStorePath)
	if err != nil {
		return nil, nil, err
	}

	external := encryption.NewExternalStore(afero.NewOsFs(), storePath)
	reporter := audit.NewReporter(audit.LogSink{}, options.Encryption.AuditBufferSize)
	svc := encryption.NewService(db, registry, reporter, external, options.Encryption)

	return svc, reporter, nil
}

func buildProviders(options rotateOptions) (*secrets.Registry, error) {
	local, err := secrets.NewLocalProviderFromConfig(options.Encryption.MasterKey)
	if err != nil {
		return nil, err
	}
	if local.Insecure() {
		logging.S.Warn("local provider is using a built-in master key; set encryption.masterKey in production")
	}

	registry := secrets.NewRegistry(local)

	vaultProvider, err := secrets.NewVaultProviderFromConfig(options.Vault)
	switch {
	case errors.Is(err, secrets.ErrNotConfigured):
	case err != nil:
		return nil, err
	default:
		registry.Add(vaultProvider)
	}

	if options.AWSKMS.KeyID != "" {
		sess, err := session.NewSession(aws.NewConfig().WithRegion(options.AWSKMS.Region))
		if err != nil {
			return nil, err
		}

		kmsProvider, err := secrets.NewAWSKMSProvider(kms.New(sess), options.AWSKMS.KeyID)
		if err != nil {
			return nil, err
		}
		registry.Add(kmsProvider)
	}

	return registry, nil
}

// serveMetrics exposes the process metrics for the duration of a run, so a
// scheduled rotation can be observed like a long lived service.
func serveMetrics(addr string) func() {
	promRegistry := prometheus.NewRegistry()
	metrics.Register(promRegistry)

	server := &http.Server{Addr: addr, Handler: metrics.NewHandler(promRegistry)}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.S.Errorf("metrics server: %v", err)
		}
	}()

	return func() {
		_ = server.Shutdown(context.Background())
	}
}

func canonicalPath(in string) (string, error) {
	out := os.ExpandEnv(in)

	if strings.HasPrefix(out, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		out = home + out[1:]
	}

	return filepath.Abs(out)
}
