// SPDX-License-Identifier: MPL-2.0

package collect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
)

type (
	// FileSystem is the output side of a build. Sources are always local
	// paths; destinations are in the FileSystem's own namespace.
	FileSystem interface {
		// Copy copies local file src to dst, creating parent directories,
		// and returns the number of bytes written.
		Copy(ctx context.Context, src, dst string) (int64, error)
		// WriteFile replaces p with data. Readers never see a partial file.
		WriteFile(ctx context.Context, p string, data []byte) error
		// ReadFile returns the contents of p.
		ReadFile(ctx context.Context, p string) ([]byte, error)
		// MkdirAll creates dir and any missing parents.
		MkdirAll(ctx context.Context, dir string) error
		// SubDirs returns the names of the directories directly under dir.
		// A missing dir has no subdirectories.
		SubDirs(ctx context.Context, dir string) ([]string, error)
		// RemoveAll deletes p and everything below it.
		RemoveAll(ctx context.Context, p string) error
		// Join joins path elements in the FileSystem's namespace.
		Join(elem ...string) string
	}

	// OSFileSystem writes to the local disk.
	OSFileSystem struct{}

	// AFSFileSystem writes through github.com/viant/afs, so destinations
	// may be any URL afs supports (file://, mem://, s3://, gs://).
	AFSFileSystem struct {
		service afs.Service
	}
)

// ForDestination picks the FileSystem for dest: AFS for URLs, the local
// disk for everything else.
func ForDestination(dest string) FileSystem {
	if IsURL(dest) {
		return NewAFSFileSystem(nil)
	}
	return OSFileSystem{}
}

// IsURL reports whether dest carries a URL scheme.
func IsURL(dest string) bool {
	scheme, _, ok := strings.Cut(dest, "://")
	return ok && scheme != "" && !strings.ContainsAny(scheme, `/\`)
}

// Copy implements FileSystem.
func (OSFileSystem) Copy(ctx context.Context, src, dst string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return 0, err
	}

	var n int64
	err = writeAtomic(dst, info.Mode().Perm(), func(w io.Writer) error {
		n, err = io.Copy(w, in)
		return err
	})
	return n, err
}

// WriteFile implements FileSystem.
func (OSFileSystem) WriteFile(ctx context.Context, p string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return writeAtomic(p, 0o644, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// ReadFile implements FileSystem.
func (OSFileSystem) ReadFile(_ context.Context, p string) ([]byte, error) {
	return os.ReadFile(p)
}

// MkdirAll implements FileSystem.
func (OSFileSystem) MkdirAll(_ context.Context, dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// SubDirs implements FileSystem.
func (OSFileSystem) SubDirs(_ context.Context, dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	return dirs, nil
}

// RemoveAll implements FileSystem.
func (OSFileSystem) RemoveAll(_ context.Context, p string) error {
	return os.RemoveAll(p)
}

// Join implements FileSystem.
func (OSFileSystem) Join(elem ...string) string {
	return filepath.Join(elem...)
}

// writeAtomic writes to a temp file next to dst and renames it into place.
func writeAtomic(dst string, perm fs.FileMode, write func(io.Writer) error) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// NewAFSFileSystem wraps service; nil selects afs.New().
func NewAFSFileSystem(service afs.Service) *AFSFileSystem {
	if service == nil {
		service = afs.New()
	}
	return &AFSFileSystem{service: service}
}

// Copy implements FileSystem.
func (a *AFSFileSystem) Copy(ctx context.Context, src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	counter := &countingReader{r: in}
	if err := a.service.Upload(ctx, dst, file.DefaultFileOsMode, counter); err != nil {
		return counter.n, fmt.Errorf("failed to upload %s: %w", dst, err)
	}
	return counter.n, nil
}

// WriteFile implements FileSystem. Object stores replace whole objects on
// upload, which gives the same guarantee as a rename.
func (a *AFSFileSystem) WriteFile(ctx context.Context, p string, data []byte) error {
	return a.service.Upload(ctx, p, file.DefaultFileOsMode, bytes.NewReader(data))
}

// ReadFile implements FileSystem.
func (a *AFSFileSystem) ReadFile(ctx context.Context, p string) ([]byte, error) {
	ok, err := a.service.Exists(ctx, p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", p, fs.ErrNotExist)
	}
	return a.service.DownloadWithURL(ctx, p)
}

// MkdirAll implements FileSystem.
func (a *AFSFileSystem) MkdirAll(ctx context.Context, dir string) error {
	ok, err := a.service.Exists(ctx, dir)
	if err != nil || ok {
		return err
	}
	return a.service.Create(ctx, dir, file.DefaultDirOsMode, true)
}

// SubDirs implements FileSystem.
func (a *AFSFileSystem) SubDirs(ctx context.Context, dir string) ([]string, error) {
	ok, err := a.service.Exists(ctx, dir)
	if err != nil || !ok {
		return nil, err
	}
	objects, err := a.service.List(ctx, dir)
	if err != nil {
		return nil, err
	}
	self := path.Base(strings.TrimRight(dir, "/"))
	var dirs []string
	for i, o := range objects {
		if !o.IsDir() {
			continue
		}
		// afs lists the directory itself first.
		if i == 0 && o.Name() == self {
			continue
		}
		dirs = append(dirs, o.Name())
	}
	return dirs, nil
}

// RemoveAll implements FileSystem.
func (a *AFSFileSystem) RemoveAll(ctx context.Context, p string) error {
	ok, err := a.service.Exists(ctx, p)
	if err != nil || !ok {
		return err
	}
	return a.service.Delete(ctx, p)
}

// Join implements FileSystem.
func (a *AFSFileSystem) Join(elem ...string) string {
	if len(elem) == 0 {
		return ""
	}
	return url.Join(elem[0], elem[1:]...)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
