package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"portal-sync/clients"
	"portal-sync/logging"
	"portal-sync/metrics"
	"portal-sync/processor"
	"portal-sync/store"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "portal-sync",
		Short: "Download files from a web file portal behind an SSO gateway",
		Long: `portal-sync logs in to a file portal published behind an SSO
gateway, keeps the session cookies on disk and lists or downloads the files
of a remote directory.

Files can be filtered by modification date with --after and --before, and
--watch keeps downloading new files every 30 seconds until interrupted.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          process,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.portal-sync.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "Log format (console or json)")
	rootCmd.PersistentFlags().String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")

	// Action flags
	rootCmd.Flags().Bool("list", false, "List the files of the directory")
	rootCmd.Flags().Bool("download", false, "Download the files of the directory")
	rootCmd.Flags().Bool("watch", false, "Keep downloading new files of the directory")
	rootCmd.Flags().StringP("directory", "d", "", "Remote directory, e.g. /Inbox")
	rootCmd.Flags().String("after", "", "Only files modified after this date")
	rootCmd.Flags().String("before", "", "Only files modified before this date")

	// Portal flags
	rootCmd.Flags().String("vendor", "netscaler", "Portal vendor preset ("+strings.Join(clients.Vendors(), ", ")+")")
	rootCmd.Flags().String("domain", "", "Portal domain; the portal and gateway hosts are derived from it")

	// Bind flags to viper
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("metrics.addr", rootCmd.PersistentFlags().Lookup("metrics-addr"))
	viper.BindPFlag("run.list", rootCmd.Flags().Lookup("list"))
	viper.BindPFlag("run.download", rootCmd.Flags().Lookup("download"))
	viper.BindPFlag("run.watch", rootCmd.Flags().Lookup("watch"))
	viper.BindPFlag("run.directory", rootCmd.Flags().Lookup("directory"))
	viper.BindPFlag("run.after", rootCmd.Flags().Lookup("after"))
	viper.BindPFlag("run.before", rootCmd.Flags().Lookup("before"))
	viper.BindPFlag("portal.vendor", rootCmd.Flags().Lookup("vendor"))
	viper.BindPFlag("portal.domain", rootCmd.Flags().Lookup("domain"))

	// Bind environment variables
	viper.BindEnv("username", "PORTAL_SYNC_USERNAME")
	viper.BindEnv("password", "PORTAL_SYNC_PASSWORD")
	viper.BindEnv("portal.vendor", "PORTAL_SYNC_VENDOR")
	viper.BindEnv("portal.domain", "PORTAL_SYNC_DOMAIN")
	viper.BindEnv("portal.portal_url", "PORTAL_SYNC_PORTAL_URL")
	viper.BindEnv("portal.gateway_url", "PORTAL_SYNC_GATEWAY_URL")
	viper.BindEnv("portal.user_agent", "PORTAL_SYNC_USER_AGENT")
	viper.BindEnv("cookies.path", "PORTAL_SYNC_COOKIES_PATH")
	viper.BindEnv("download.dir", "PORTAL_SYNC_DOWNLOAD_DIR")
	viper.BindEnv("log.level", "PORTAL_SYNC_LOG_LEVEL")
	viper.BindEnv("log.format", "PORTAL_SYNC_LOG_FORMAT")
	viper.BindEnv("metrics.addr", "PORTAL_SYNC_METRICS_ADDR")

	setDefaults(viper.GetViper())
}

func initConfig() {
	if cfgFile != "" {
		// Use specified config file
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".portal-sync")
	}

	// If config file is found, read it
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

func process(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(viper.GetViper())
	if err != nil {
		return err
	}
	if err := s.validate(); err != nil {
		return err
	}
	after, before, err := s.window()
	if err != nil {
		return err
	}
	proto, err := s.protocol()
	if err != nil {
		return err
	}

	logger, err := logging.New(s.loggingConfig())
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if s.Metrics.Addr != "" {
		go serveMetrics(ctx, s.Metrics.Addr, logger)
	}

	fs := afero.NewOsFs()
	cookies := store.NewCookieStore(fs, s.Cookies.Path, logger)

	client, err := clients.NewPortalClient(proto, logger,
		clients.WithSession(cookies.Load()),
		clients.WithDownloadDir(fs, s.Download.Dir),
	)
	if err != nil {
		return err
	}

	proc := processor.NewProcessor(&processor.Dependencies{
		Client: client,
		Store:  cookies,
		Logger: logger,
	})

	if err := proc.EnsureSession(ctx, s.credentials()); err != nil {
		logger.Error("Could not establish a session", zap.Error(err))
		return err
	}

	return run(ctx, proc, s.Run, after, before)
}

func run(ctx context.Context, proc *processor.Processor, r runSettings, after, before time.Time) error {
	if r.List {
		if _, err := proc.ListInRange(ctx, r.Directory, after, before); err != nil {
			return err
		}
	}

	if r.Download {
		stats, err := proc.DownloadInRange(ctx, r.Directory, after, before)
		if err != nil {
			return err
		}
		if stats.FailedFiles > 0 {
			fmt.Fprintf(os.Stderr, "%d of %d files failed to download\n", stats.FailedFiles, stats.TotalFiles)
		}
	}

	if r.Watch {
		return proc.Watch(ctx, r.Directory)
	}
	return nil
}

func serveMetrics(ctx context.Context, addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Metrics server failed", zap.Error(err))
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
