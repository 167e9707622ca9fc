package steamcmd

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"

	"github.com/smazurov/servernode/internal/fsutil"
	"github.com/smazurov/servernode/internal/version"
)

// EnsureInstalled downloads and unpacks the tool unless the launcher script
// already exists. The existing install is never re-verified.
func (t *Tool) EnsureInstalled(ctx context.Context) error {
	t.installMu.Lock()
	defer t.installMu.Unlock()

	if fsutil.Exists(t.Executable()) {
		return nil
	}

	t.logger.Info("steamcmd not found, downloading", "url", t.url, "dir", t.dir)

	parent := filepath.Dir(t.dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("failed to create tool parent directory: %w", err)
	}

	staging, err := os.MkdirTemp(parent, ".steamcmd-*")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := t.download(ctx, staging); err != nil {
		return err
	}
	if !fsutil.Exists(filepath.Join(staging, ExecutableName)) {
		return fmt.Errorf("downloaded archive does not contain %s", ExecutableName)
	}

	if err := os.RemoveAll(t.dir); err != nil {
		return fmt.Errorf("failed to clear tool directory: %w", err)
	}
	if err := os.Rename(staging, t.dir); err != nil {
		return fmt.Errorf("failed to move tool into place: %w", err)
	}

	t.logger.Info("steamcmd ready", "executable", t.Executable())
	return nil
}

func (t *Tool) download(ctx context.Context, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return fmt.Errorf("failed to build download request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download steamcmd: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download steamcmd: unexpected status %s", resp.Status)
	}

	return extractTarGz(resp.Body, dest)
}

// extractTarGz unpacks a gzip-compressed tar stream into dest.
func extractTarGz(r io.Reader, dest string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read archive: %w", err)
		}

		path, err := fsutil.SafeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(path, hdr.FileInfo().Mode().Perm()|0o700); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeTarFile(tr, path, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, path); err != nil {
				return err
			}
		}
	}
}

func writeTarFile(r io.Reader, path string, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
