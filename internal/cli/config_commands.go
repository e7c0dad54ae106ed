// Package cli implements the fshare command line: the server command and
// the client commands that talk to a running server.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fshare/fshare/internal/config"
	"github.com/fshare/fshare/internal/diskspace"
	"github.com/fshare/fshare/internal/progress"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage client settings",
		Long: `Client settings management commands for fshare.

Commands:
  init  - Interactive settings setup
  show  - Display current settings
  set   - Change one setting
  test  - Test the connection to the selected server
  path  - Show settings file path`,
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigSetCmd())
	configCmd.AddCommand(newConfigTestCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

func settingsPath() string {
	if settingsFile != "" {
		return settingsFile
	}
	return config.DefaultSettingsPath()
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize settings interactively",
		Long: `Interactive settings setup for fshare.

Use --force to overwrite existing settings.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := settingsPath()
			out := cmd.OutOrStdout()

			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Fprintf(out, "Settings already exist at: %s\n", path)
					fmt.Fprintln(out, "Use --force to overwrite or run 'config show' to view them.")
					return nil
				}
			}

			s := config.NewSettings()
			if err := askSettings(cmd.InOrStdin(), out, s); err != nil {
				return err
			}
			if err := s.Validate(); err != nil {
				return fmt.Errorf("invalid settings: %w", err)
			}
			if err := config.SaveSettings(s, path); err != nil {
				return err
			}
			GetLogger().Info().Str("path", path).Msg("Settings saved")

			fmt.Fprintln(out)
			fmt.Fprintf(out, "✓ Settings saved to: %s\n", path)
			fmt.Fprintln(out, "Connect to a server with: fshare connect <address> --code <code>")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing settings")
	return cmd
}

func askSettings(in io.Reader, out io.Writer, s *config.Settings) error {
	fmt.Fprintln(out, "fshare Settings Setup")
	fmt.Fprintln(out, "=====================")
	fmt.Fprintln(out)

	answers := []struct {
		label string
		key   string
		def   string
	}{
		{"Download directory", "download_dir", s.DownloadDir},
		{"Folder downloads (zip/extract)", "folder_download_mode", s.FolderDownloadMode},
		{"Existing files (rename/overwrite)", "duplicate_mode", s.DuplicateMode},
		{"Archive compression (store/deflate)", "archive_compression", s.ArchiveCompression},
		{"Proxy mode (no-proxy/system/basic/ntlm)", "proxy.mode", s.Proxy.Mode},
	}
	// One reader for all prompts so buffered input is not lost between them.
	r := newLineReader(in)
	for _, a := range answers {
		v, err := promptLine(r, out, a.label, a.def)
		if err != nil {
			return err
		}
		if err := setSetting(s, a.key, v); err != nil {
			return err
		}
	}

	if s.Proxy.Mode == config.ProxyModeBasic || s.Proxy.Mode == config.ProxyModeNTLM {
		for _, a := range []struct{ label, key, def string }{
			{"Proxy host", "proxy.host", s.Proxy.Host},
			{"Proxy port", "proxy.port", "8080"},
			{"Proxy user", "proxy.user", s.Proxy.User},
		} {
			v, err := promptLine(r, out, a.label, a.def)
			if err != nil {
				return err
			}
			if err := setSetting(s, a.key, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := settingsPath()
			s, err := config.LoadSettings(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			fmt.Fprintln(out, "Current Settings")
			fmt.Fprintln(out, "================")
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Transfers:")
			fmt.Fprintf(out, "  Download Directory:  %s\n", s.DownloadDir)
			if free := diskspace.GetAvailableSpace(filepath.Join(s.DownloadDir, "x")); free > 0 {
				fmt.Fprintf(out, "  Free Space:          %s\n", progress.FormatBytes(free))
			}
			fmt.Fprintf(out, "  Folder Downloads:    %s\n", s.FolderDownloadMode)
			fmt.Fprintf(out, "  Existing Files:      %s\n", s.DuplicateMode)
			fmt.Fprintf(out, "  Archive Compression: %s\n", s.ArchiveCompression)
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Proxy Settings:")
			fmt.Fprintf(out, "  Proxy Mode: %s\n", s.Proxy.Mode)
			if s.Proxy.Host != "" {
				fmt.Fprintf(out, "  Proxy Host: %s\n", s.Proxy.Host)
				fmt.Fprintf(out, "  Proxy Port: %d\n", s.Proxy.Port)
			}
			if s.Proxy.User != "" {
				fmt.Fprintf(out, "  Proxy User: %s\n", s.Proxy.User)
			}
			if s.Proxy.NoProxy != "" {
				fmt.Fprintf(out, "  No Proxy:   %s\n", s.Proxy.NoProxy)
			}
			fmt.Fprintln(out)

			if len(s.SavedServers) > 0 {
				fmt.Fprintln(out, "Saved Servers:")
				for _, srv := range s.SavedServers {
					line := fmt.Sprintf("  %s: %s", srv.Name, srv.URL)
					if srv.Username != "" {
						line += " (" + srv.Username + ")"
					}
					fmt.Fprintln(out, line)
				}
				fmt.Fprintln(out)
			}

			fmt.Fprintf(out, "Settings file: %s\n", path)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				fmt.Fprintln(out, "  (file does not exist - using defaults)")
			}
			return nil
		},
	}
}

// newConfigSetCmd creates the 'config set' command.
func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one setting",
		Long: `Change one client setting and save it.

Keys:
  download_dir, folder_download_mode, duplicate_mode, archive_compression,
  insecure_skip_verify, proxy.mode, proxy.host, proxy.port, proxy.user,
  proxy.no_proxy`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := settingsPath()
			s, err := config.LoadSettings(path)
			if err != nil {
				return err
			}
			if err := setSetting(s, args[0], args[1]); err != nil {
				return err
			}
			if err := s.Validate(); err != nil {
				return fmt.Errorf("invalid settings: %w", err)
			}
			if err := config.SaveSettings(s, path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s = %s\n", args[0], args[1])
			return nil
		},
	}
}

// setSetting assigns one value by its settings file key.
func setSetting(s *config.Settings, key, value string) error {
	value = strings.TrimSpace(value)
	switch strings.ToLower(key) {
	case "download_dir":
		s.DownloadDir = value
	case "folder_download_mode":
		s.FolderDownloadMode = strings.ToLower(value)
	case "duplicate_mode":
		s.DuplicateMode = strings.ToLower(value)
	case "archive_compression":
		v := strings.ToLower(value)
		if v != "store" && v != "deflate" {
			return fmt.Errorf("archive_compression must be store or deflate")
		}
		s.ArchiveCompression = v
	case "insecure_skip_verify":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("insecure_skip_verify: %w", err)
		}
		s.InsecureSkipVerify = b
	case "proxy.mode":
		s.Proxy.Mode = strings.ToLower(value)
	case "proxy.host":
		s.Proxy.Host = value
	case "proxy.port":
		port, err := strconv.Atoi(value)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("proxy.port must be a port number, got %q", value)
		}
		s.Proxy.Port = port
	case "proxy.user":
		s.Proxy.User = value
	case "proxy.no_proxy":
		s.Proxy.NoProxy = value
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return nil
}

// newConfigTestCmd creates the 'config test' command.
func newConfigTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Test the server connection",
		Long: `Test the connection to the selected server with the current settings,
including the proxy, and log in.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := GetLogger()
			out := cmd.OutOrStdout()

			ctx, cancel := context.WithTimeout(GetContext(), 30*time.Second)
			defer cancel()

			client, _, err := getAPIClient(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("Connection test failed")
				fmt.Fprintln(out, "✗ Connection FAILED")
				fmt.Fprintf(out, "  Error: %v\n", err)
				return fmt.Errorf("connection test failed")
			}
			defer client.Logout(context.Background())

			folders, err := client.SharedFolders(ctx)
			if err != nil {
				return fmt.Errorf("connection test failed: %w", err)
			}

			logger.Info().Msg("Connection test successful")
			fmt.Fprintln(out, "✓ Connection SUCCESSFUL")
			fmt.Fprintf(out, "  Server:         %s\n", client.BaseURL())
			fmt.Fprintf(out, "  Shared folders: %d\n", len(folders))
			return nil
		},
	}
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show settings file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			path := settingsPath()
			if settingsFile == "" {
				fmt.Fprintln(out, "Default settings path:")
			} else {
				fmt.Fprintln(out, "Settings path (from --settings flag):")
			}
			fmt.Fprintf(out, "  %s\n", path)
			fmt.Fprintln(out)

			if info, err := os.Stat(path); err == nil {
				fmt.Fprintln(out, "Status: ✓ File exists")
				fmt.Fprintf(out, "Modified: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))
			} else {
				fmt.Fprintln(out, "Status: File does not exist")
				fmt.Fprintln(out)
				fmt.Fprintln(out, "Create one with: fshare config init")
			}
			fmt.Fprintf(out, "Server config: %s\n", config.DefaultServerConfigPath())
			return nil
		},
	}
}
