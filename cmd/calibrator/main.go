package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RMahshie/sigcal/internal/api"
	"github.com/RMahshie/sigcal/internal/calibration"
	"github.com/RMahshie/sigcal/internal/config"
	"github.com/RMahshie/sigcal/internal/notification"
	"github.com/RMahshie/sigcal/pkg/models"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "calibrator",
		Short:         "Automated signal generator calibration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "path to the configuration file (default calibration.yaml)")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(newRunCmd(), newConfigCmd(), newVersionCmd())
	return root
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the calibration procedure at every configured frequency",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if mock, _ := cmd.Flags().GetBool("mock"); mock {
				cfg.Mode = models.ModeSimulated
			}

			closeLog := setupLogging(cfg.Log)
			defer closeLog()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, cfg); err != nil {
				log.Error().Err(err).Msg("Calibration finished with errors")
				return err
			}
			return nil
		},
	}
	cmd.Flags().Bool("mock", false, "use simulated instruments")
	cmd.Flags().String("output-dir", "", "directory for the results files")
	cmd.Flags().Bool("serve", false, "serve run status over HTTP while calibrating")
	return cmd
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg.Redacted())
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
		return nil, err
	}
	return cfg, nil
}

// run wires every collaborator of a calibration run and executes it
func run(ctx context.Context, cfg *config.Config) error {
	mailer, err := notification.NewMailer(cfg.Email)
	if err != nil {
		return err
	}
	var managerOpts []notification.ManagerOption
	if texter := notification.NewTexter(cfg.SMS); texter != nil {
		managerOpts = append(managerOpts, notification.WithTexter(texter))
	}
	sink := notification.NewManager(mailer, managerOpts...)

	opts := []calibration.Option{}

	repo, closeRepo, err := openRepository(ctx, cfg.Database)
	if err != nil {
		log.Error().Err(err).Str("driver", cfg.Database.Driver).Msg("Results database unavailable, continuing without it")
	} else if repo != nil {
		defer closeRepo()
		opts = append(opts, calibration.WithRepository(repo))
	}

	archiver, err := openArchiver(ctx, cfg.Archive)
	if err != nil {
		log.Error().Err(err).Str("bucket", cfg.Archive.Bucket).Msg("Archive unavailable, continuing without it")
	} else if archiver != nil {
		opts = append(opts, calibration.WithArchiver(archiver))
	}

	orch := calibration.New(cfg, sink, opts...)

	var srv *http.Server
	if cfg.Server.Enabled {
		api.Version = version
		srv = api.NewServer(cfg.Server, orch, repo)
		go func() {
			log.Info().Str("addr", srv.Addr).Msg("Starting status server")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("Status server failed")
			}
		}()
	}

	runErr := orch.Run(ctx)

	if srv != nil {
		log.Info().Msg("Shutting down status server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Status server forced to shutdown")
		}
	}
	return runErr
}
