// SPDX-License-Identifier: MPL-2.0

package collect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/modlink/modlink/pkg/imports"
	"github.com/modlink/modlink/pkg/resolve"
)

// DefaultConcurrency bounds the number of files copied at once.
const DefaultConcurrency = 8

// ErrCopy is the sentinel wrapped by CopyError.
var ErrCopy = errors.New("copy failed")

type (
	// CopiedFile is one file that reached the output tree.
	CopiedFile struct {
		SourceRel string `json:"source" yaml:"source" toml:"source"`
		DestRel   string `json:"dest" yaml:"dest" toml:"dest"`
		Size      int64  `json:"size" yaml:"size" toml:"size"`
	}

	// CopyError is a single file that could not be copied.
	CopyError struct {
		PackageName string `json:"package" yaml:"package" toml:"package"`
		File        string `json:"file" yaml:"file" toml:"file"`
		Err         error  `json:"-" yaml:"-" toml:"-"`
		Message     string `json:"error" yaml:"error" toml:"error"`
	}

	// CopyResult is the outcome of copying one package.
	CopyResult struct {
		PackageName string       `json:"package" yaml:"package" toml:"package"`
		DestDir     string       `json:"dest_dir" yaml:"dest_dir" toml:"dest_dir"`
		Copied      []CopiedFile `json:"copied" yaml:"copied" toml:"copied"`
		Failed      []*CopyError `json:"failed" yaml:"failed" toml:"failed"`
		TotalBytes  int64        `json:"total_bytes" yaml:"total_bytes" toml:"total_bytes"`
		// ScanError is set when the package directory could not be enumerated.
		ScanError string `json:"scan_error,omitempty" yaml:"scan_error,omitempty" toml:"scan_error,omitempty"`
	}

	// CollectionSession aggregates one Collect run.
	CollectionSession struct {
		Results    []*CopyResult `json:"results" yaml:"results" toml:"results"`
		Succeeded  int           `json:"succeeded" yaml:"succeeded" toml:"succeeded"`
		Failed     int           `json:"failed" yaml:"failed" toml:"failed"`
		TotalBytes int64         `json:"total_bytes" yaml:"total_bytes" toml:"total_bytes"`
		Duration   time.Duration `json:"duration" yaml:"duration" toml:"duration"`
		// Pruned lists stale package directories removed from the output.
		Pruned []string `json:"pruned,omitempty" yaml:"pruned,omitempty" toml:"pruned,omitempty"`
	}

	// Collector copies resolved packages into an output tree.
	Collector struct {
		fs          FileSystem
		rules       Rules
		concurrency int
		prune       bool
		logger      *log.Logger
	}

	// Option configures a Collector.
	Option func(*Collector)

	copyJob struct {
		result *CopyResult
		index  int
		src    string
		dst    string
		rel    string
	}
)

// Error implements the error interface.
func (e *CopyError) Error() string {
	return fmt.Sprintf("failed to copy %s from %s: %v", e.File, e.PackageName, e.Err)
}

// Unwrap returns both ErrCopy and the underlying cause.
func (e *CopyError) Unwrap() []error { return []error{ErrCopy, e.Err} }

// WithFileSystem sets the output FileSystem. The default is chosen from the
// destination with ForDestination.
func WithFileSystem(fs FileSystem) Option {
	return func(c *Collector) { c.fs = fs }
}

// WithRules replaces DefaultRules.
func WithRules(r Rules) Option {
	return func(c *Collector) { c.rules = r }
}

// WithConcurrency bounds concurrent copies across all packages.
func WithConcurrency(n int) Option {
	return func(c *Collector) { c.concurrency = n }
}

// WithPrune removes package directories under the destination that are not
// part of the Resolution being collected.
func WithPrune(enabled bool) Option {
	return func(c *Collector) { c.prune = enabled }
}

// WithLogger sets the collector logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Collector) { c.logger = l }
}

// New creates a Collector.
func New(opts ...Option) *Collector {
	c := &Collector{
		rules:       DefaultRules(),
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.concurrency < 1 {
		c.concurrency = DefaultConcurrency
	}
	if c.logger == nil {
		c.logger = log.New(io.Discard)
	}
	return c
}

// Rules returns the collector's file rules.
func (c *Collector) Rules() Rules { return c.rules }

// Collect copies every package of res into destRoot/<base>/. Per-file and
// per-package problems are recorded in the session; the returned error is
// non-nil only when ctx is canceled or pruning fails, and the partial
// session is returned with it.
func (c *Collector) Collect(ctx context.Context, res *resolve.Resolution, destRoot string) (*CollectionSession, error) {
	start := time.Now()
	fsys := c.fs
	if fsys == nil {
		fsys = ForDestination(destRoot)
	}

	session := &CollectionSession{}
	var jobs []copyJob
	owners := make(map[string]string)

	for _, name := range res.Names() {
		pkg, _ := res.Package(name)
		base := imports.ScopedBase(name)
		result := &CopyResult{PackageName: name, DestDir: base}
		session.Results = append(session.Results, result)

		if owner, taken := owners[base]; taken {
			result.ScanError = fmt.Sprintf("output directory %q is already used by %s", base, owner)
			c.logger.Error("package output collides", "package", name, "dir", base, "owner", owner)
			continue
		}
		owners[base] = name

		files, err := Scan(pkg.Location.Path, c.rules)
		if err != nil {
			result.ScanError = err.Error()
			c.logger.Error("failed to scan package", "package", name, "err", err)
			continue
		}

		result.Copied = make([]CopiedFile, len(files))
		for i, rel := range files {
			jobs = append(jobs, copyJob{
				result: result,
				index:  i,
				src:    filepath.Join(pkg.Location.Path, filepath.FromSlash(rel)),
				dst:    fsys.Join(destRoot, base, rel),
				rel:    rel,
			})
		}
	}

	failures := make([]*CopyError, len(jobs))
	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, job := range jobs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			n, err := fsys.Copy(ctx, job.src, job.dst)
			if err != nil {
				failures[i] = &CopyError{PackageName: job.result.PackageName, File: job.rel, Err: err, Message: err.Error()}
				return nil
			}
			job.result.Copied[job.index] = CopiedFile{SourceRel: job.rel, DestRel: job.result.DestDir + "/" + job.rel, Size: n}
			return nil
		})
	}
	waitErr := g.Wait()

	// Compact per-package results in scan order.
	failedAt := make(map[*CopyResult]map[int]bool)
	for i, f := range failures {
		if f == nil {
			continue
		}
		r := jobs[i].result
		r.Failed = append(r.Failed, f)
		if failedAt[r] == nil {
			failedAt[r] = make(map[int]bool)
		}
		failedAt[r][jobs[i].index] = true
	}
	for _, r := range session.Results {
		kept := r.Copied[:0]
		for i, cf := range r.Copied {
			if failedAt[r][i] || cf.DestRel == "" {
				continue
			}
			kept = append(kept, cf)
			r.TotalBytes += cf.Size
		}
		r.Copied = slices.Clip(kept)
		session.Succeeded += len(r.Copied)
		session.Failed += len(r.Failed)
		session.TotalBytes += r.TotalBytes
		c.logger.Debug("package collected", "package", r.PackageName, "files", len(r.Copied), "failed", len(r.Failed), "bytes", r.TotalBytes)
	}

	if waitErr != nil {
		session.Duration = time.Since(start)
		return session, fmt.Errorf("collection interrupted: %w", waitErr)
	}

	if c.prune {
		pruned, err := c.pruneStale(ctx, fsys, destRoot, owners)
		session.Pruned = pruned
		if err != nil {
			session.Duration = time.Since(start)
			return session, err
		}
	}

	session.Duration = time.Since(start)
	return session, nil
}

// pruneStale removes directories under destRoot that belong to no package
// of the current build.
func (c *Collector) pruneStale(ctx context.Context, fsys FileSystem, destRoot string, keep map[string]string) ([]string, error) {
	dirs, err := fsys.SubDirs(ctx, destRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to list output directory: %w", err)
	}
	var pruned []string
	for _, d := range dirs {
		if _, ok := keep[d]; ok {
			continue
		}
		if err := fsys.RemoveAll(ctx, fsys.Join(destRoot, d)); err != nil {
			return pruned, fmt.Errorf("failed to remove stale package directory %s: %w", d, err)
		}
		c.logger.Info("pruned stale package directory", "dir", d)
		pruned = append(pruned, d)
	}
	return pruned, nil
}

// Errors returns every copy failure of the session.
func (s *CollectionSession) Errors() []*CopyError {
	var out []*CopyError
	for _, r := range s.Results {
		out = append(out, r.Failed...)
	}
	return out
}

// Result returns the CopyResult of the named package.
func (s *CollectionSession) Result(name string) (*CopyResult, bool) {
	for _, r := range s.Results {
		if r.PackageName == name {
			return r, true
		}
	}
	return nil, false
}

// CopiedFiles lists the package-relative paths copied for name. ok is false
// when the package was skipped or its directory could not be scanned.
func (s *CollectionSession) CopiedFiles(name string) (files []string, ok bool) {
	r, found := s.Result(name)
	if !found || r.ScanError != "" {
		return nil, false
	}
	files = make([]string, len(r.Copied))
	for i, cf := range r.Copied {
		files[i] = cf.SourceRel
	}
	return files, true
}
