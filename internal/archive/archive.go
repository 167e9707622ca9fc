// Package archive writes and reads zip snapshots of directory trees.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/smazurov/servernode/internal/fsutil"
)

// Create writes a zip of everything under src to dst and returns the size of
// the finished archive. A failed Create may leave a partial dst behind.
func Create(ctx context.Context, src, dst string) (int64, error) {
	info, err := os.Stat(src)
	if err != nil {
		return 0, fmt.Errorf("failed to stat source: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("source %s is not a directory", src)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create archive directory: %w", err)
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to create archive: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	walkErr := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path == src {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		return addEntry(zw, path, filepath.ToSlash(rel), d)
	})
	if walkErr != nil {
		zw.Close()
		return 0, fmt.Errorf("failed to archive %s: %w", src, walkErr)
	}

	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("failed to finish archive: %w", err)
	}
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("failed to close archive: %w", err)
	}

	stat, err := os.Stat(dst)
	if err != nil {
		return 0, err
	}
	return stat.Size(), nil
}

func addEntry(zw *zip.Writer, path, name string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}

	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = name

	switch {
	case info.IsDir():
		hdr.Name += "/"
		_, err := zw.CreateHeader(hdr)
		return err
	case info.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(path)
		if err != nil {
			return err
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, target)
		return err
	case info.Mode().IsRegular():
		hdr.Method = zip.Deflate
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	default:
		// Sockets, devices and pipes have no meaningful content to snapshot.
		return nil
	}
}

// Extract unpacks the zip at archivePath into dest and returns the number of
// file bytes written. Entries that would escape dest are rejected.
func Extract(ctx context.Context, archivePath, dest string) (int64, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return 0, fmt.Errorf("failed to open archive: %w", err)
	}
	defer r.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create destination: %w", err)
	}

	var total int64
	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := extractFile(f, dest)
		if err != nil {
			return total, fmt.Errorf("failed to extract %s: %w", f.Name, err)
		}
		total += n
	}
	return total, nil
}

func extractFile(f *zip.File, dest string) (int64, error) {
	path, err := fsutil.SafeJoin(dest, f.Name)
	if err != nil {
		return 0, err
	}

	if err := checkNoSymlinks(dest, path); err != nil {
		return 0, err
	}

	mode := f.Mode()
	if mode.IsDir() {
		return 0, os.MkdirAll(path, mode.Perm()|0o700)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}

	rc, err := f.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	if mode&os.ModeSymlink != 0 {
		target, err := io.ReadAll(rc)
		if err != nil {
			return 0, err
		}
		if filepath.IsAbs(string(target)) {
			return 0, fmt.Errorf("illegal symlink target: %s", target)
		}
		rel, err := filepath.Rel(dest, filepath.Dir(path))
		if err != nil {
			return 0, err
		}
		if _, err := fsutil.SafeJoin(dest, filepath.Join(rel, string(target))); err != nil {
			return 0, fmt.Errorf("illegal symlink target: %s", target)
		}
		return 0, os.Symlink(string(target), path)
	}

	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, rc)
	if err != nil {
		out.Close()
		return n, err
	}
	return n, out.Close()
}

// checkNoSymlinks fails when path, or any directory between dest and path,
// already exists as a symlink. Writing through one could leave dest.
func checkNoSymlinks(dest, path string) error {
	rel, err := filepath.Rel(filepath.Clean(dest), path)
	if err != nil {
		return err
	}
	if rel == "." {
		return nil
	}

	current := filepath.Clean(dest)
	for _, part := range strings.Split(rel, string(os.PathSeparator)) {
		current = filepath.Join(current, part)
		info, err := os.Lstat(current)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("refusing to write through symlink %s", current)
		}
	}
	return nil
}
