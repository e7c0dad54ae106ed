package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/fshare/fshare/internal/api"
	"github.com/fshare/fshare/internal/config"
	"github.com/fshare/fshare/internal/progress"
	"github.com/fshare/fshare/internal/transfer"
)

// newGetCmd creates the 'get' command.
func newGetCmd() *cobra.Command {
	var (
		dest      string
		extract   bool
		overwrite bool
		rename    bool
		deflate   bool
	)

	cmd := &cobra.Command{
		Use:   "get <remote-path>...",
		Short: "Download files or folders",
		Long: `Download files or folders from the server.

Folders arrive as zip archives; with --extract they are unpacked and the
archive is removed. Existing local files get a numbered name unless
--overwrite is given. Defaults come from the client settings.

Examples:
  fshare get /srv/data/report.pdf
  fshare get /srv/data/photos --extract --dest ~/Pictures`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if overwrite && rename {
				return errors.New("--overwrite and --rename are mutually exclusive")
			}
			ctx := GetContext()
			client, s, err := getAPIClient(ctx)
			if err != nil {
				return err
			}

			if dest != "" {
				s.DownloadDir = dest
			}
			if extract {
				s.FolderDownloadMode = config.FolderModeExtract
			}
			if overwrite {
				s.DuplicateMode = config.DuplicateOverwrite
			}
			if rename {
				s.DuplicateMode = config.DuplicateRename
			}
			if deflate {
				s.ArchiveCompression = "deflate"
			}
			if err := os.MkdirAll(s.DownloadDir, 0755); err != nil {
				return fmt.Errorf("failed to create download directory: %w", err)
			}

			items := make([]transfer.RemoteItem, 0, len(args))
			for _, p := range args {
				item, err := resolveRemote(ctx, client, p)
				if err != nil {
					return err
				}
				items = append(items, item)
			}

			return runTransfers(ctx, cmd, client, s, false, func(m *transfer.Manager) error {
				_, err := m.DownloadItems(items)
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&dest, "dest", "d", "", "Download directory (default from settings)")
	cmd.Flags().BoolVar(&extract, "extract", false, "Extract folder archives after download")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace existing local files")
	cmd.Flags().BoolVar(&rename, "rename", false, "Keep existing local files and pick a numbered name")
	cmd.Flags().BoolVar(&deflate, "deflate", false, "Ask the server to compress folder archives")
	return cmd
}

// newPutCmd creates the 'put' command.
func newPutCmd() *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:   "put <local-path>... --to <remote-folder>",
		Short: "Upload files or folders",
		Long: `Upload local files or folders into a folder on the server.

Folders are uploaded file by file with their structure kept. At most three
uploads run at once; the rest wait in order.

Examples:
  fshare put notes.txt --to /srv/data
  fshare put ./photos ./video.mp4 --to /srv/data/incoming`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" {
				return errors.New("--to is required")
			}
			hasFolder := false
			for _, p := range args {
				info, err := os.Stat(p)
				if err != nil {
					return err
				}
				hasFolder = hasFolder || info.IsDir()
			}

			ctx := GetContext()
			client, s, err := getAPIClient(ctx)
			if err != nil {
				return err
			}

			return runTransfers(ctx, cmd, client, s, hasFolder, func(m *transfer.Manager) error {
				for _, p := range args {
					info, err := os.Stat(p)
					if err != nil {
						return err
					}
					if info.IsDir() {
						if _, _, err := m.UploadFolder(p, target); err != nil {
							return fmt.Errorf("%s: %w", p, err)
						}
						continue
					}
					if _, err := m.UploadFile(p, target); err != nil {
						return fmt.Errorf("%s: %w", p, err)
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&target, "to", "", "Remote folder to upload into")
	return cmd
}

// lockedWriter serializes the batch bar and the per-task lines that share
// stderr. It also hides the underlying file, so TransferUI falls back to
// plain lines instead of redrawing bars over the batch bar.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// runTransfers queues work on a fresh manager, renders progress until every
// task is terminal and reports failures. Interrupting the command cancels
// all tasks.
func runTransfers(ctx context.Context, cmd *cobra.Command, client *api.Client, s *config.Settings,
	batched bool, queue func(*transfer.Manager) error) error {
	m := transfer.NewManager(transfer.Options{Client: client, Settings: s, Logger: GetLogger()})

	var uiOut io.Writer = cmd.ErrOrStderr()
	var batches *progress.BatchWatcher
	if batched {
		shared := &lockedWriter{w: uiOut}
		batches = progress.WatchBatches(m.Events(), progress.NewCLIProgress(shared))
		uiOut = shared
	}
	ui := progress.NewTransferUI(uiOut)
	ui.Attach(m.Events())

	stop := context.AfterFunc(ctx, m.CancelAll)
	defer stop()

	queueErr := queue(m)
	if queueErr != nil {
		m.CancelAll()
	}
	waitErr := m.Wait(context.Background())
	ui.Close()
	if batches != nil {
		batches.Close()
	}

	if queueErr != nil {
		return queueErr
	}
	if waitErr != nil {
		return waitErr
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return summarize(m.Tasks())
}

func summarize(tasks []transfer.Snapshot) error {
	failed := 0
	for _, t := range tasks {
		if t.State != transfer.TaskCompleted {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d transfers failed", failed, len(tasks))
	}
	return nil
}

// resolveRemote finds what a remote path names by listing its parent. A
// path that cannot be found in its parent but lists as a folder (a share
// root) is taken as a folder.
func resolveRemote(ctx context.Context, client *api.Client, p string) (transfer.RemoteItem, error) {
	parent, base := splitRemote(p)
	if parent != "" && base != "" {
		if listing, err := client.ListFolder(ctx, parent); err == nil {
			for _, f := range listing.Files {
				if f.Path == p || f.Name == base {
					return transfer.RemoteItem{Path: f.Path, Name: f.Name, IsDir: f.IsDir, Size: f.SizeBytes}, nil
				}
			}
		}
	}
	if _, err := client.ListFolder(ctx, p); err != nil {
		if errors.Is(err, api.ErrNotLoggedIn) {
			return transfer.RemoteItem{}, err
		}
		return transfer.RemoteItem{}, fmt.Errorf("%s: not found on server", p)
	}
	return transfer.RemoteItem{Path: p, Name: base, IsDir: true}, nil
}

func splitRemote(p string) (parent, base string) {
	p = strings.TrimRight(p, "/\\")
	i := strings.LastIndexAny(p, "/\\")
	if i < 0 {
		return "", p
	}
	parent = p[:i]
	if parent == "" || strings.HasSuffix(parent, ":") {
		parent = p[:i+1]
	}
	return parent, p[i+1:]
}
