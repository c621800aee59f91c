// SPDX-License-Identifier: MPL-2.0

// Package watch drives the modlink rebuild loop.
//
// It monitors the project tree and invokes a callback after a debounce
// period. Events within the debounce window are coalesced into a single
// Batch that says whether the entry source changed and which package
// manifests were touched, so the caller knows when to drop the locator cache.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

const (
	// defaultDebounce lets an editor's write-then-rename settle into one rebuild.
	defaultDebounce = 300 * time.Millisecond

	defaultManifestName = "package.json"
)

// ErrInvalidConfig is the sentinel wrapped by InvalidConfigError.
var ErrInvalidConfig = errors.New("invalid watch configuration")

// defaultIgnores are excluded regardless of Config.Ignore. Package trees under
// node_modules are deliberately watched because their manifests feed the
// locator cache.
var defaultIgnores = []string{
	"**/.git/**",
	"**/*.swp",
	"**/*.swo",
	"**/*~",
	"**/.DS_Store",
}

type (
	// Config holds the parameters for a Watcher.
	Config struct {
		// BaseDir is the root directory to watch. Empty means the working directory.
		BaseDir string

		// Entry is the entry source file. A relative path is taken from BaseDir.
		Entry string

		// ManifestName is the manifest file name that marks a package directory.
		ManifestName string

		// OutputDir is never watched, so writing build output does not
		// retrigger a build. A relative path is taken from BaseDir.
		OutputDir string

		// Patterns are doublestar globs selecting which other files trigger a
		// rebuild. The entry and manifests always do. Empty means every
		// non-ignored file.
		Patterns []string

		// Ignore are extra doublestar globs merged with the default ignores.
		Ignore []string

		// Debounce is the quiet period before the callback fires.
		Debounce time.Duration

		// ClearScreen writes an ANSI clear sequence to Stdout before each rebuild.
		ClearScreen bool

		// OnChange receives the coalesced batch. A nil callback is a no-op.
		OnChange func(ctx context.Context, batch Batch) error

		Stdout io.Writer
		Logger *log.Logger
	}

	// Batch is the set of changes seen during one debounce window.
	// Paths are slash-separated and relative to BaseDir.
	Batch struct {
		EntryChanged bool
		Manifests    []string
		Other        []string
	}

	// InvalidConfigError lists every rejected Config field.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Watcher monitors the project and fires a debounced callback. Run must
	// be called exactly once.
	Watcher struct {
		cfg          Config
		fsw          *fsnotify.Watcher
		ignores      []string
		stdout       io.Writer
		logger       *log.Logger
		debounce     time.Duration
		baseDir      string
		entryRel     string
		outputRel    string
		manifestName string
		started      atomic.Bool
	}
)

// Error implements the error interface.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, 0, len(e.FieldErrors))
	for _, fe := range e.FieldErrors {
		msgs = append(msgs, fe.Error())
	}
	return fmt.Sprintf("%s: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

// Unwrap returns ErrInvalidConfig for errors.Is checks.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// Validate checks every glob pattern and the manifest name.
func (c Config) Validate() error {
	var errs []error
	for _, pat := range c.Patterns {
		if err := validatePattern(pat); err != nil {
			errs = append(errs, fmt.Errorf("watch pattern %q: %w", pat, err))
		}
	}
	for _, pat := range c.Ignore {
		if err := validatePattern(pat); err != nil {
			errs = append(errs, fmt.Errorf("ignore pattern %q: %w", pat, err))
		}
	}
	if strings.ContainsAny(c.ManifestName, `/\`) {
		errs = append(errs, fmt.Errorf("manifest name %q must be a bare file name", c.ManifestName))
	}
	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

// All returns the changed manifest and other paths in sorted order. The
// entry is reported only through EntryChanged.
func (b Batch) All() []string {
	out := make([]string, 0, len(b.Manifests)+len(b.Other)+1)
	out = append(out, b.Manifests...)
	out = append(out, b.Other...)
	slices.Sort(out)
	return out
}

// ManifestsChanged reports whether any package manifest was touched.
func (b Batch) ManifestsChanged() bool { return len(b.Manifests) > 0 }

// Empty reports whether the batch carries no change at all.
func (b Batch) Empty() bool {
	return !b.EntryChanged && len(b.Manifests) == 0 && len(b.Other) == 0
}

// New creates a Watcher and registers every non-ignored directory under
// BaseDir with fsnotify.
func New(cfg Config) (*Watcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	baseDir := cfg.BaseDir
	if baseDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to determine working directory: %w", err)
		}
		baseDir = wd
	}
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	stdout := cfg.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	manifestName := cfg.ManifestName
	if manifestName == "" {
		manifestName = defaultManifestName
	}

	ignores := make([]string, 0, len(defaultIgnores)+len(cfg.Ignore))
	ignores = append(ignores, defaultIgnores...)
	ignores = append(ignores, cfg.Ignore...)

	outputRel := ""
	if cfg.OutputDir != "" {
		if rel, ok := relTo(absBase, cfg.OutputDir); ok && rel != "." {
			outputRel = rel
		}
	}

	entryRel := ""
	if cfg.Entry != "" {
		if rel, ok := relTo(absBase, cfg.Entry); ok {
			entryRel = rel
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		cfg:          cfg,
		fsw:          fsw,
		ignores:      ignores,
		stdout:       stdout,
		logger:       logger,
		debounce:     debounce,
		baseDir:      absBase,
		entryRel:     entryRel,
		outputRel:    outputRel,
		manifestName: manifestName,
	}

	if err := w.addDirectories(); err != nil {
		if closeErr := fsw.Close(); closeErr != nil {
			logger.Warn("close after init failure", "err", closeErr)
		}
		return nil, err
	}
	return w, nil
}

// Run blocks until ctx is cancelled, dispatching debounced callbacks. It
// returns nil on cancellation and an error when fsnotify breaks for good.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return errors.New("watch: Run called more than once")
	}

	var (
		mu      sync.Mutex
		pending = make(map[string]struct{})
		timer   *time.Timer
		running atomic.Bool
	)

	// fire may run after cancellation because it is scheduled by
	// time.AfterFunc. Only one rebuild runs at a time; a busy fire re-arms the
	// timer so its pending paths are picked up next round.
	fire := func() {
		if ctx.Err() != nil {
			return
		}
		if !running.CompareAndSwap(false, true) {
			w.logger.Debug("previous rebuild still running, deferring")
			mu.Lock()
			if timer != nil {
				timer.Reset(w.debounce)
			}
			mu.Unlock()
			return
		}
		defer running.Store(false)

		mu.Lock()
		if len(pending) == 0 {
			mu.Unlock()
			return
		}
		changed := slices.Sorted(maps.Keys(pending))
		clear(pending)
		mu.Unlock()

		batch := w.classify(changed)
		if w.cfg.ClearScreen {
			fmt.Fprint(w.stdout, "\033[2J\033[H")
		}
		if w.cfg.OnChange != nil {
			if err := w.cfg.OnChange(ctx, batch); err != nil {
				w.logger.Error("rebuild failed", "err", err)
			}
		}
	}

	defer func() {
		mu.Lock()
		localTimer := timer
		mu.Unlock()
		if localTimer != nil {
			localTimer.Stop()
		}
		if closeErr := w.fsw.Close(); closeErr != nil {
			w.logger.Warn("close fsnotify", "err", closeErr)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watch: fsnotify event channel closed unexpectedly")
			}
			rel, err := filepath.Rel(w.baseDir, evt.Name)
			if err != nil {
				rel = evt.Name
			}
			rel = filepath.ToSlash(rel)

			if w.isIgnored(rel) {
				continue
			}
			// New directories are registered before the relevance check so
			// packages installed after startup are still watched.
			if evt.Has(fsnotify.Create) {
				w.maybeAddDir(evt.Name)
			}
			if !w.relevant(rel) {
				continue
			}

			mu.Lock()
			pending[rel] = struct{}{}
			if timer == nil {
				timer = time.AfterFunc(w.debounce, fire)
			} else {
				timer.Reset(w.debounce)
			}
			mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watch: fsnotify error channel closed unexpectedly")
			}
			if resource, fatal := exhaustedResource(err); fatal {
				return fmt.Errorf("watch: exhausted %s: %w", resource, err)
			}
			w.logger.Warn("fsnotify error", "err", err)
		}
	}
}

// classify splits sorted relative paths into a Batch.
func (w *Watcher) classify(changed []string) Batch {
	var b Batch
	for _, rel := range changed {
		switch {
		case w.entryRel != "" && rel == w.entryRel:
			b.EntryChanged = true
		case w.isManifest(rel):
			b.Manifests = append(b.Manifests, rel)
		default:
			b.Other = append(b.Other, rel)
		}
	}
	return b
}

func (w *Watcher) isManifest(rel string) bool {
	return path.Base(rel) == w.manifestName
}

// relevant reports whether a change to rel should schedule a rebuild.
func (w *Watcher) relevant(rel string) bool {
	if rel == w.entryRel || w.isManifest(rel) {
		return true
	}
	if len(w.cfg.Patterns) == 0 {
		return true
	}
	for _, pat := range w.cfg.Patterns {
		if matched, matchErr := doublestar.Match(pat, rel); matchErr == nil && matched {
			return true
		}
	}
	return false
}

func (w *Watcher) addDirectories() error {
	walkErr := filepath.WalkDir(w.baseDir, func(p string, d os.DirEntry, walkDirErr error) error {
		if walkDirErr != nil {
			w.logger.Warn("skipping inaccessible path", "path", p, "err", walkDirErr)
			return nil //nolint:nilerr // inaccessible directories are skipped, not fatal
		}
		if !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(w.baseDir, p)
		if relErr != nil {
			return nil //nolint:nilerr // skip paths that cannot be made relative
		}
		rel = filepath.ToSlash(rel)
		if rel != "." && (w.isIgnored(rel) || w.isIgnored(rel+"/")) {
			return filepath.SkipDir
		}
		if addErr := w.fsw.Add(p); addErr != nil {
			return fmt.Errorf("failed to watch directory %q: %w", p, addErr)
		}
		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("failed to walk directory tree: %w", walkErr)
	}
	return nil
}

func (w *Watcher) maybeAddDir(p string) {
	info, err := os.Stat(p)
	if err != nil || !info.IsDir() {
		return
	}
	rel, err := filepath.Rel(w.baseDir, p)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)
	if w.isIgnored(rel) || w.isIgnored(rel+"/") {
		return
	}
	if addErr := w.fsw.Add(p); addErr != nil {
		w.logger.Warn("failed to watch new directory", "path", p, "err", addErr)
	}
}

func (w *Watcher) isIgnored(rel string) bool {
	if w.outputRel != "" && (rel == w.outputRel || strings.HasPrefix(rel, w.outputRel+"/")) {
		return true
	}
	for _, pat := range w.ignores {
		if matched, matchErr := doublestar.Match(pat, rel); matchErr == nil && matched {
			return true
		}
	}
	return false
}

// DefaultIgnores returns a copy of the built-in ignore patterns.
func DefaultIgnores() []string {
	return slices.Clone(defaultIgnores)
}

func validatePattern(pat string) error {
	if pat == "" {
		return errors.New("pattern must not be empty")
	}
	if !doublestar.ValidatePattern(pat) {
		return doublestar.ErrBadPattern
	}
	return nil
}

// relTo returns p relative to base in slash form. ok is false when p lies
// outside base.
func relTo(base, p string) (string, bool) {
	if !filepath.IsAbs(p) {
		p = filepath.Join(base, p)
	}
	rel, err := filepath.Rel(base, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
