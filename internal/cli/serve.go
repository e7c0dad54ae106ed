package cli

import (
	"fmt"
	"io"
	"net"
	"sort"

	"github.com/spf13/cobra"

	"github.com/fshare/fshare/internal/accesslog"
	"github.com/fshare/fshare/internal/config"
	"github.com/fshare/fshare/internal/constants"
	"github.com/fshare/fshare/internal/logging"
	"github.com/fshare/fshare/internal/server"
)

type serveOptions struct {
	configPath string
	shares     []string
	users      []string
	host       string
	port       int
	save       bool
}

// newServeCmd creates the 'serve' command.
func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Share folders over HTTP",
		Long: `Start the file server.

Users and shared folders come from the server config file and are extended
by --share and --user. Plain passwords are hashed at start-up. An access code
is generated when the config has none; peers use it with 'fshare connect'.

Examples:
  fshare serve --share ~/Public --user alice:secret
  fshare serve --config /etc/fshare/server_config.yaml --port 8443
  fshare serve --share /srv/data --user bob:pw --save`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildServerConfig(opts)
			if err != nil {
				return err
			}
			return runServer(cmd, cfg)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Server config file (default ~/.config/fshare/server_config.yaml)")
	cmd.Flags().StringArrayVar(&opts.shares, "share", nil, "Folder to share (repeatable)")
	cmd.Flags().StringArrayVar(&opts.users, "user", nil, "User as name:password (repeatable)")
	cmd.Flags().StringVar(&opts.host, "host", "", "Listen address (default 0.0.0.0)")
	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, fmt.Sprintf("Listen port (default %d)", constants.DefaultServerPort))
	cmd.Flags().BoolVar(&opts.save, "save", false, "Write the merged configuration back to the config file")
	return cmd
}

// buildServerConfig loads the config file and applies the flags on top.
func buildServerConfig(opts serveOptions) (*config.ServerConfig, error) {
	path := opts.configPath
	if path == "" {
		path = config.DefaultServerConfigPath()
	}
	cfg, err := config.LoadServerConfig(path)
	if err != nil {
		return nil, err
	}
	cfg.SharedFolders = append(cfg.SharedFolders, opts.shares...)
	for _, spec := range opts.users {
		if err := cfg.AddUserSpec(spec); err != nil {
			return nil, err
		}
	}
	if opts.host != "" {
		cfg.Host = opts.host
	}
	if opts.port != 0 {
		cfg.Port = opts.port
	}
	if _, err := cfg.EnsureAccessCode(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.save {
		if err := config.SaveServerConfig(cfg, path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func runServer(cmd *cobra.Command, cfg *config.ServerConfig) error {
	srvLog := logging.NewServerLogger()
	al := accesslog.New(constants.AccessLogCapacity, srvLog)
	if cfg.AccessLogDB != "" {
		store, err := accesslog.OpenStore(cfg.AccessLogDB, cfg.AccessLogKeep)
		if err != nil {
			return err
		}
		defer store.Close()
		al.SetSink(store)
		srvLog.Info().Str("path", cfg.AccessLogDB).Msg("Persisting access log")
	}

	srv, err := server.New(server.Options{Config: cfg, Logger: srvLog, AccessLog: al})
	if err != nil {
		return err
	}

	printBanner(cmd.OutOrStdout(), cfg)
	return srv.Run(GetContext())
}

func printBanner(out io.Writer, cfg *config.ServerConfig) {
	scheme := "http"
	if cfg.TLSEnabled() {
		scheme = "https"
	}
	fmt.Fprintln(out, "fshare server")
	fmt.Fprintln(out, "=============")
	fmt.Fprintf(out, "Access code: %s\n", cfg.AccessCode)
	fmt.Fprintln(out, "Addresses:")
	for _, addr := range listenAddresses(cfg.Host) {
		fmt.Fprintf(out, "  %s://%s\n", scheme, net.JoinHostPort(addr, fmt.Sprint(cfg.Port)))
	}
	fmt.Fprintln(out, "Shared folders:")
	for _, f := range cfg.SharedFolders {
		fmt.Fprintf(out, "  %s\n", f)
	}
	users := make([]string, 0, len(cfg.Users))
	for name := range cfg.Users {
		users = append(users, name)
	}
	sort.Strings(users)
	fmt.Fprintf(out, "Users: %v\n\n", users)
}

// listenAddresses returns the addresses peers can use. A wildcard host
// expands to the machine's non-loopback IPv4 addresses plus localhost.
func listenAddresses(host string) []string {
	if host != "" && host != "0.0.0.0" && host != "::" {
		return []string{host}
	}
	out := []string{"127.0.0.1"}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return out
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() || ipnet.IP.To4() == nil {
			continue
		}
		out = append(out, ipnet.IP.String())
	}
	return out
}
