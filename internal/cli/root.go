// Package cli provides the command-line interface for fshare.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fshare/fshare/internal/logging"
	"github.com/fshare/fshare/internal/version"
)

var (
	// Global flags
	settingsFile string
	serverFlag   string
	userFlag     string
	passwordFlag string
	verbose      bool
	debug        bool

	// Global logger
	logger *logging.Logger

	// Global context for signal handling
	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fshare",
		Short: "Share folders over HTTP and transfer files with peers",
		Long: `fshare ` + version.Version + ` - Built: ` + version.BuildTime + `
Share local folders with authenticated peers and move files in both directions.

Server:
  fshare serve --share ~/Public --user alice:secret

Client:
  fshare connect http://192.168.1.20:5000 --code K7Q2ZD --name office
  fshare ls /srv/share --server office
  fshare get /srv/share/report.pdf --server office
  fshare put ./photos --to /srv/share --server office`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.NewDefaultCLILogger()
			if verbose || debug {
				logging.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&settingsFile, "settings", "", "Client settings file (default ~/.config/fshare/settings.yaml)")
	rootCmd.PersistentFlags().StringVarP(&serverFlag, "server", "s", "", "Server URL or saved server name (env FSHARE_SERVER)")
	rootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "", "User name (env FSHARE_USER)")
	rootCmd.PersistentFlags().StringVar(&passwordFlag, "password", "", "Password (env FSHARE_PASSWORD, prompted when unset)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug output (same as --verbose)")

	rootCmd.Version = version.Version + " (" + version.BuildTime + ")"
	return rootCmd
}

// Execute runs the CLI.
func Execute() error {
	rootContext, cancelFunc = context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range sigChan {
			if sig != nil {
				fmt.Fprintf(os.Stderr, "\n\nReceived signal %v, cancelling operations...\n", sig)
				fmt.Fprintf(os.Stderr, "   Please wait for cleanup to complete.\n\n")
				cancelFunc()
			}
		}
	}()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	err := rootCmd.Execute()

	signal.Stop(sigChan)
	close(sigChan)
	return err
}

// AddCommands adds all subcommands to the root command.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newConnectCmd())
	rootCmd.AddCommand(newPingCmd())
	rootCmd.AddCommand(newSharesCmd())
	rootCmd.AddCommand(newLsCmd())
	rootCmd.AddCommand(newGetCmd())
	rootCmd.AddCommand(newPutCmd())
	rootCmd.AddCommand(newLogCmd())
	rootCmd.AddCommand(newConfigCmd())
}

// GetLogger returns the global CLI logger.
func GetLogger() *logging.Logger {
	if logger == nil {
		logger = logging.NewDefaultCLILogger()
	}
	return logger
}

// GetContext returns the global CLI context. It is cancelled on Ctrl+C.
func GetContext() context.Context {
	if rootContext == nil {
		return context.Background()
	}
	return rootContext
}
