package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fshare/fshare/internal/api"
	"github.com/fshare/fshare/internal/config"
	"github.com/fshare/fshare/internal/progress"
)

// newConnectCmd creates the 'connect' command.
func newConnectCmd() *cobra.Command {
	var code, name string

	cmd := &cobra.Command{
		Use:   "connect <server-url>",
		Short: "Verify a server's access code and save it",
		Long: `Check the access code printed by 'fshare serve' and remember the server
in the client settings under --name, so later commands can use --server <name>.

Example:
  fshare connect 192.168.1.20:5000 --code K7Q2ZD --name office`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			s, err := loadSettings()
			if err != nil {
				return err
			}
			serverFlag = args[0]
			client, _, err := newAPIClient(ctx, s)
			if err != nil {
				return err
			}

			if code == "" {
				if code, err = promptLine(newLineReader(cmd.InOrStdin()), cmd.ErrOrStderr(), "Access code", ""); err != nil {
					return err
				}
			}
			users, err := client.CheckCode(ctx, code)
			if err != nil {
				var se *api.StatusError
				if errors.As(err, &se) && se.StatusCode == 403 {
					return errors.New("access code rejected")
				}
				return err
			}

			user := userFlag
			if user == "" && len(users) == 1 {
				user = users[0]
			}
			if name == "" {
				name = client.BaseURL()
			}
			s.RememberServer(config.SavedServer{Name: name, URL: client.BaseURL(), Username: user})
			if err := config.SaveSettings(s, settingsFile); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Access code accepted by %s\n", client.BaseURL())
			fmt.Fprintf(out, "  Users: %v\n", users)
			fmt.Fprintf(out, "  Saved as %q\n", name)
			return nil
		},
	}

	cmd.Flags().StringVar(&code, "code", "", "Access code shown by the server")
	cmd.Flags().StringVar(&name, "name", "", "Name to save the server under (default: its URL)")
	return cmd
}

// newPingCmd creates the 'ping' command.
func newPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that a server is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			s, err := loadSettings()
			if err != nil {
				return err
			}
			client, _, err := newAPIClient(ctx, s)
			if err != nil {
				return err
			}
			start := time.Now()
			info, err := client.Ping(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is up (%s): %d shared folders, users %v\n",
				client.BaseURL(), time.Since(start).Round(time.Millisecond), info.SharedCount, info.Users)
			return nil
		},
	}
}

// newSharesCmd creates the 'shares' command.
func newSharesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shares",
		Short: "List the server's shared folders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			client, _, err := getAPIClient(ctx)
			if err != nil {
				return err
			}
			folders, err := client.SharedFolders(ctx)
			if err != nil {
				return err
			}
			for _, f := range folders {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return nil
		},
	}
}

// newLsCmd creates the 'ls' command.
func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [path]",
		Short: "List a remote folder",
		Long: `List a folder on the server. Without a path the shared folders are listed.

Folders come first, then files, each sorted by name.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			client, _, err := getAPIClient(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				folders, err := client.SharedFolders(ctx)
				if err != nil {
					return err
				}
				for _, f := range folders {
					fmt.Fprintf(out, "%s/\n", f)
				}
				return nil
			}

			listing, err := client.ListFolder(ctx, args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			for _, f := range listing.Files {
				size := progress.FormatBytes(f.SizeBytes)
				name := f.Name
				if f.IsDir {
					size = "-"
					name += "/"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", f.ModifiedTime.Local().Format("2006-01-02 15:04"), size, name)
			}
			return w.Flush()
		},
	}
}

// newLogCmd creates the 'log' command.
func newLogCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the server's recent access log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			client, _, err := getAPIClient(ctx)
			if err != nil {
				return err
			}
			entries, err := client.AccessLog(ctx, limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					e.Time.Local().Format("2006-01-02 15:04:05"), e.Address, e.Identity, e.Action, e.Detail)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Number of entries to show")
	return cmd
}
