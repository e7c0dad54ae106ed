// Package archive builds and unpacks zip archives of shared folders.
package archive

import (
	"archive/zip"
	"compress/flate"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/fshare/fshare/internal/logging"
	"github.com/fshare/fshare/internal/validation"
)

// Compression selects how entries are written.
type Compression int

const (
	// Store writes entries uncompressed. Default, fastest.
	Store Compression = iota
	// Deflate writes entries with the fastest deflate level.
	Deflate
)

func (c Compression) String() string {
	if c == Deflate {
		return "deflate"
	}
	return "store"
}

// ParseCompression maps the comp query value. Anything unrecognised is Store.
func ParseCompression(v string) Compression {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "deflate", "zip_deflated", "1", "true", "yes":
		return Deflate
	default:
		return Store
	}
}

// Options controls CreateZip.
type Options struct {
	Compression Compression

	// Allow, when set, is consulted for every entry by absolute path.
	// Entries it rejects are skipped; rejected directories are not descended.
	Allow func(path string) bool

	// Logger receives a warning for every unreadable file left out.
	Logger *logging.Logger
}

// Stats describes a finished archive.
type Stats struct {
	Files   int
	Dirs    int
	Skipped int   // unreadable files left out
	Size    int64 // size of the archive itself, when known
}

// CreateZip writes the recursive contents of srcDir to w. Entry names are
// slash-separated paths relative to srcDir. Symlinked files are followed;
// symlinked directories are skipped to avoid cycles. ctx is checked between
// entries.
func CreateZip(ctx context.Context, srcDir string, w io.Writer, opts Options) (Stats, error) {
	var st Stats
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	info, err := os.Stat(srcDir)
	if err != nil {
		return st, fmt.Errorf("source directory does not exist: %w", err)
	}
	if !info.IsDir() {
		return st, fmt.Errorf("source path is not a directory: %s", srcDir)
	}

	zw := zip.NewWriter(w)
	if opts.Compression == Deflate {
		zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
			return flate.NewWriter(out, flate.BestSpeed)
		})
	}

	method := zip.Store
	if opts.Compression == Deflate {
		method = zip.Deflate
	}

	walkErr := filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped rather than failing the archive.
			if d != nil && d.IsDir() && p != srcDir {
				return fs.SkipDir
			}
			if p == srcDir {
				return err
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if p == srcDir {
			return nil
		}
		if opts.Allow != nil && !opts.Allow(p) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return nil
		}
		name := entryName(rel)
		if name == "" {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			target, err := os.Stat(p)
			if err != nil || !target.Mode().IsRegular() {
				return nil
			}
			fi = target
		}

		if fi.IsDir() {
			hdr, err := zip.FileInfoHeader(fi)
			if err != nil {
				return err
			}
			hdr.Name = name + "/"
			if _, err := zw.CreateHeader(hdr); err != nil {
				return fmt.Errorf("failed to write directory entry: %w", err)
			}
			st.Dirs++
			return nil
		}
		if !fi.Mode().IsRegular() {
			return nil
		}

		// Open before writing the header so an unreadable file leaves no
		// entry behind.
		f, err := os.Open(p)
		if err != nil {
			logger.Warn().Err(err).Str("file", p).Msg("Skipping unreadable file")
			st.Skipped++
			return nil
		}
		defer f.Close()

		hdr, err := zip.FileInfoHeader(fi)
		if err != nil {
			return err
		}
		hdr.Name = name
		hdr.Method = method

		entry, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("failed to write header for %s: %w", name, err)
		}
		if _, err := io.Copy(entry, f); err != nil {
			return fmt.Errorf("failed to write contents of %s: %w", name, err)
		}
		st.Files++
		return nil
	})
	if walkErr != nil {
		zw.Close()
		return st, fmt.Errorf("failed to create zip: %w", walkErr)
	}

	if err := zw.Close(); err != nil {
		return st, fmt.Errorf("failed to finalize zip: %w", err)
	}
	return st, nil
}

// entryName converts an OS relative path to a clean zip entry name.
func entryName(rel string) string {
	p := filepath.ToSlash(rel)
	p = path.Clean("/" + p)
	p = strings.Trim(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// BuildTemp archives srcDir into a new temporary file under tmpDir (the
// system temp dir when empty). The caller owns the returned path and must
// remove it. On error nothing is left behind.
func BuildTemp(ctx context.Context, srcDir, tmpDir string, opts Options) (string, Stats, error) {
	f, err := os.CreateTemp(tmpDir, "fshare-archive-*.zip")
	if err != nil {
		return "", Stats{}, fmt.Errorf("failed to create temp archive: %w", err)
	}
	tmpPath := f.Name()

	st, err := CreateZip(ctx, srcDir, f, opts)
	if err == nil {
		var info os.FileInfo
		if info, err = f.Stat(); err == nil {
			st.Size = info.Size()
		}
	}
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close temp archive: %w", cerr)
	}
	if err != nil {
		os.Remove(tmpPath)
		return "", st, err
	}
	return tmpPath, st, nil
}

// ExtractZip unpacks zipPath into destDir, creating it if needed. Entries that
// would land outside destDir are rejected and abort the extraction.
func ExtractZip(ctx context.Context, zipPath, destDir string) (int, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open archive: %w", err)
	}
	defer zr.Close()

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create extraction directory: %w", err)
	}

	files := 0
	for _, zf := range zr.File {
		if err := ctx.Err(); err != nil {
			return files, err
		}

		name := strings.ReplaceAll(zf.Name, `\`, "/")
		if strings.HasPrefix(name, "/") || strings.Contains(name, "\x00") {
			return files, fmt.Errorf("illegal entry name in archive: %q", zf.Name)
		}
		target := filepath.Join(destDir, filepath.FromSlash(name))
		if err := validation.ValidatePathInDirectory(target, destDir); err != nil {
			return files, fmt.Errorf("illegal entry name in archive: %w", err)
		}

		if zf.FileInfo().IsDir() || strings.HasSuffix(name, "/") {
			if err := os.MkdirAll(target, 0755); err != nil {
				return files, fmt.Errorf("failed to create directory: %w", err)
			}
			continue
		}
		if !zf.Mode().IsRegular() {
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return files, fmt.Errorf("failed to create directory: %w", err)
		}
		if err := extractFile(zf, target); err != nil {
			return files, err
		}
		files++
	}
	return files, nil
}

func extractFile(zf *zip.File, target string) error {
	rc, err := zf.Open()
	if err != nil {
		return fmt.Errorf("failed to open entry %s: %w", zf.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("failed to extract %s: %w", zf.Name, err)
	}
	return out.Close()
}
