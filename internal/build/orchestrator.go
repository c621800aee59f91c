// SPDX-License-Identifier: MPL-2.0

package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/modlink/modlink/internal/config"
	"github.com/modlink/modlink/pkg/aliastable"
	"github.com/modlink/modlink/pkg/collect"
	"github.com/modlink/modlink/pkg/imports"
	"github.com/modlink/modlink/pkg/locator"
	"github.com/modlink/modlink/pkg/manifest"
	"github.com/modlink/modlink/pkg/resolve"
)

// baseRetryBackoff is the delay before the first output preparation retry.
// Each further attempt doubles it.
const baseRetryBackoff = 50 * time.Millisecond

var (
	// ErrConfiguration is the sentinel wrapped by ConfigurationError.
	ErrConfiguration = errors.New("invalid build configuration")

	// ErrOutputNotWritable is returned when the output root cannot be prepared.
	ErrOutputNotWritable = errors.New("output directory not writable")
)

type (
	// ConfigurationError aborts a build before any phase runs.
	ConfigurationError struct {
		Err error
	}

	// PhaseError is a fatal failure while entering Phase. The Result that
	// accompanies it holds everything earlier phases produced.
	PhaseError struct {
		Phase Phase
		Err   error
	}

	// Input is what a build consumes.
	Input struct {
		// Source is the entry source, as raw text or pre-parsed declarations.
		Source imports.Source
		// Previous is the alias table of an earlier build, used for Changes.
		// When nil the orchestrator reads the table already in the output, if any.
		Previous *aliastable.AliasTable
	}

	// Stats are the counters a report needs.
	Stats struct {
		Imports      imports.Counts `json:"imports" yaml:"imports" toml:"imports"`
		ParseErrors  int            `json:"parse_errors" yaml:"parse_errors" toml:"parse_errors"`
		Resolved     int            `json:"resolved" yaml:"resolved" toml:"resolved"`
		Unresolved   int            `json:"unresolved" yaml:"unresolved" toml:"unresolved"`
		Skipped      int            `json:"skipped" yaml:"skipped" toml:"skipped"`
		FilesCopied  int            `json:"files_copied" yaml:"files_copied" toml:"files_copied"`
		FilesFailed  int            `json:"files_failed" yaml:"files_failed" toml:"files_failed"`
		BytesCopied  int64          `json:"bytes_copied" yaml:"bytes_copied" toml:"bytes_copied"`
		AliasEntries int            `json:"alias_entries" yaml:"alias_entries" toml:"alias_entries"`
		Duration     time.Duration  `json:"duration" yaml:"duration" toml:"duration"`
	}

	// Result accumulates the output of every phase that ran.
	Result struct {
		Phase          Phase                      `json:"phase" yaml:"phase" toml:"phase"`
		Source         string                     `json:"source" yaml:"source" toml:"source"`
		Imports        []imports.Declaration      `json:"imports" yaml:"imports" toml:"imports"`
		ParseErrors    []*imports.ParseError      `json:"parse_errors,omitempty" yaml:"parse_errors,omitempty" toml:"parse_errors,omitempty"`
		Resolution     *resolve.Resolution        `json:"resolution,omitempty" yaml:"resolution,omitempty" toml:"resolution,omitempty"`
		Session        *collect.CollectionSession `json:"session,omitempty" yaml:"session,omitempty" toml:"session,omitempty"`
		AliasTable     *aliastable.AliasTable     `json:"alias_table,omitempty" yaml:"alias_table,omitempty" toml:"alias_table,omitempty"`
		AliasTablePath string                     `json:"alias_table_path,omitempty" yaml:"alias_table_path,omitempty" toml:"alias_table_path,omitempty"`
		Changes        aliastable.Changes         `json:"changes" yaml:"changes" toml:"changes"`
		Warnings       []string                   `json:"warnings,omitempty" yaml:"warnings,omitempty" toml:"warnings,omitempty"`
		Stats          Stats                      `json:"stats" yaml:"stats" toml:"stats"`
	}

	// Orchestrator runs the build phases with components built from one Config.
	Orchestrator struct {
		cfg       *config.Config
		workspace string
		destRoot  string
		parser    *imports.Parser
		locator   *locator.Locator
		resolver  *resolve.Resolver
		collector *collect.Collector
		fs        collect.FileSystem
		logger    *log.Logger
	}

	// Option configures an Orchestrator.
	Option func(*settings)

	settings struct {
		workspace string
		env       []string
		fs        collect.FileSystem
		cache     *locator.Cache
		logger    *log.Logger
	}
)

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %v", ErrConfiguration, e.Err)
}

// Unwrap returns both the sentinel and the underlying cause.
func (e *ConfigurationError) Unwrap() []error { return []error{ErrConfiguration, e.Err} }

// Error implements the error interface.
func (e *PhaseError) Error() string {
	return fmt.Sprintf("build stopped before %s: %v", e.Phase, e.Err)
}

// Unwrap returns the underlying cause.
func (e *PhaseError) Unwrap() error { return e.Err }

// WithWorkspace sets the project directory. Relative output directories and
// the {workspace} tier placeholder are taken from it. Defaults to the
// working directory.
func WithWorkspace(dir string) Option {
	return func(s *settings) { s.workspace = dir }
}

// WithEnviron overrides the environment used to expand search tiers.
func WithEnviron(env []string) Option {
	return func(s *settings) { s.env = env }
}

// WithFileSystem overrides the output FileSystem chosen from the output dir.
func WithFileSystem(fs collect.FileSystem) Option {
	return func(s *settings) { s.fs = fs }
}

// WithLocatorCache shares a locator cache between orchestrators.
func WithLocatorCache(c *locator.Cache) Option {
	return func(s *settings) { s.cache = c }
}

// WithLogger sets the logger handed to every component.
func WithLogger(l *log.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// New validates cfg and builds the pipeline components. Any problem with the
// configuration is reported as a *ConfigurationError.
func New(cfg *config.Config, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		return nil, &ConfigurationError{Err: errors.New("configuration is nil")}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &ConfigurationError{Err: err}
	}

	var s settings
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = log.New(io.Discard)
	}
	if s.workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		s.workspace = wd
	}

	locOpts := []locator.Option{
		locator.WithTiers(cfg.SearchTiers),
		locator.WithWorkspace(s.workspace),
		locator.WithManifestName(cfg.ManifestName),
		locator.WithLogger(s.logger.WithPrefix("locate")),
	}
	if s.env != nil {
		locOpts = append(locOpts, locator.WithEnviron(s.env))
	}
	if s.cache != nil {
		locOpts = append(locOpts, locator.WithCache(s.cache))
	}
	loc, err := locator.New(locOpts...)
	if err != nil {
		return nil, &ConfigurationError{Err: err}
	}

	destRoot := cfg.OutputDir
	if !collect.IsURL(destRoot) && !filepath.IsAbs(destRoot) {
		destRoot = filepath.Join(s.workspace, destRoot)
	}
	fsys := s.fs
	if fsys == nil {
		fsys = collect.ForDestination(destRoot)
	}

	return &Orchestrator{
		cfg:       cfg,
		workspace: s.workspace,
		destRoot:  destRoot,
		parser:    imports.NewParser(imports.WithFrameworkScopes(cfg.FrameworkScopes...)),
		locator:   loc,
		resolver:  resolve.New(loc,
			resolve.WithManifestLoader(manifest.NewReader(cfg.ManifestName)),
			resolve.WithConcurrency(cfg.Concurrency),
			resolve.WithValidateExports(cfg.ValidateExports),
			resolve.WithLogger(s.logger.WithPrefix("resolve")),
		),
		collector: collect.New(
			collect.WithFileSystem(fsys),
			collect.WithRules(cfg.Rules()),
			collect.WithConcurrency(cfg.Concurrency),
			collect.WithPrune(cfg.Prune),
			collect.WithLogger(s.logger.WithPrefix("collect")),
		),
		fs:     fsys,
		logger: s.logger,
	}, nil
}

// Config returns the configuration the orchestrator was built from.
func (o *Orchestrator) Config() *config.Config { return o.cfg }

// Locator returns the shared package locator.
func (o *Orchestrator) Locator() *locator.Locator { return o.locator }

// OutputRoot returns the resolved output directory or URL.
func (o *Orchestrator) OutputRoot() string { return o.destRoot }

// AliasTablePath returns where the import map is written.
func (o *Orchestrator) AliasTablePath() string {
	return o.fs.Join(o.destRoot, o.cfg.AliasTableFile)
}

// ClearCache forgets every located package so the next build searches the
// tiers again.
func (o *Orchestrator) ClearCache() { o.locator.ClearCache() }

// Run executes the build. Per-import, per-package and per-file failures are
// recorded on the Result and do not stop the build. A fatal failure returns
// the partial Result together with a *PhaseError.
func (o *Orchestrator) Run(ctx context.Context, in Input) (*Result, error) {
	start := time.Now()
	res := &Result{Phase: PhaseIdle, Source: in.Source.Name()}
	defer func() { res.Stats.Duration = time.Since(start) }()

	if err := o.parseAndResolve(ctx, in, res); err != nil {
		return res, err
	}
	resolution := res.Resolution

	if resolution.IsEmpty() {
		for _, w := range resolution.Warnings {
			o.logger.Warn(w)
		}
		msg := "no packages resolved; nothing to install or collect"
		res.Warnings = append(res.Warnings, msg)
		o.logger.Warn(msg)
		o.clearStaleTable(ctx, res)
		o.advance(res, PhaseDone)
		return res, nil
	}

	if err := o.prepareOutput(ctx); err != nil {
		return res, &PhaseError{Phase: PhaseInstalled, Err: err}
	}
	o.advance(res, PhaseInstalled)

	session, err := o.collector.Collect(ctx, resolution, o.destRoot)
	res.Session = session
	if session != nil {
		res.Stats.FilesCopied = session.Succeeded
		res.Stats.FilesFailed = session.Failed
		res.Stats.BytesCopied = session.TotalBytes
		for _, cr := range session.Results {
			if cr.ScanError != "" {
				res.Stats.Skipped++
			}
		}
		res.Stats.Resolved -= res.Stats.Skipped
	}
	if err != nil {
		return res, &PhaseError{Phase: PhaseCollected, Err: err}
	}
	o.advance(res, PhaseCollected)

	table := aliastable.Build(resolution, o.cfg.ImportMapBase(), aliastable.WithContents(session))
	for _, w := range table.Warnings {
		o.logger.Warn(w)
	}
	res.Warnings = append(res.Warnings, table.Warnings...)
	res.AliasTable = table
	res.Stats.AliasEntries = table.Len()
	o.advance(res, PhaseAliasTableReady)

	previous := in.Previous
	if previous == nil {
		previous = o.readPrevious(ctx)
	}
	res.Changes = aliastable.Diff(previous, table)

	path := o.AliasTablePath()
	if err := table.WriteFile(ctx, o.fs, path); err != nil {
		return res, &PhaseError{Phase: PhaseDone, Err: fmt.Errorf("%w: %w", ErrOutputNotWritable, err)}
	}
	res.AliasTablePath = path
	o.advance(res, PhaseDone)

	o.logger.Info("build complete",
		"resolved", res.Stats.Resolved,
		"unresolved", res.Stats.Unresolved,
		"files", res.Stats.FilesCopied,
		"aliases", res.Stats.AliasEntries,
	)
	return res, nil
}

// Plan runs the parse and resolve phases and previews the alias table
// without touching the output. The Result stops at PhaseResolved.
func (o *Orchestrator) Plan(ctx context.Context, in Input) (*Result, error) {
	start := time.Now()
	res := &Result{Phase: PhaseIdle, Source: in.Source.Name()}
	defer func() { res.Stats.Duration = time.Since(start) }()

	if err := o.parseAndResolve(ctx, in, res); err != nil {
		return res, err
	}
	if !res.Resolution.IsEmpty() {
		res.AliasTable = aliastable.Build(res.Resolution, o.cfg.ImportMapBase())
		res.Stats.AliasEntries = res.AliasTable.Len()
		res.Changes = aliastable.Diff(in.Previous, res.AliasTable)
	}
	return res, nil
}

// Clean removes the output root so the next build starts cold. It refuses
// to remove the workspace or any directory containing it.
func (o *Orchestrator) Clean(ctx context.Context) error {
	if !collect.IsURL(o.destRoot) {
		rel, err := filepath.Rel(o.destRoot, o.workspace)
		if err == nil && (rel == "." || !strings.HasPrefix(rel, "..")) {
			return &ConfigurationError{Err: fmt.Errorf("output dir %s contains the workspace", o.destRoot)}
		}
	}
	if err := o.fs.RemoveAll(ctx, o.destRoot); err != nil {
		return fmt.Errorf("failed to remove %s: %w", o.destRoot, err)
	}
	o.logger.Info("removed build output", "dir", o.destRoot)
	return nil
}

func (o *Orchestrator) parseAndResolve(ctx context.Context, in Input, res *Result) error {
	decls, parseErrs := in.Source.Declarations(o.parser)
	res.Imports = decls
	res.ParseErrors = parseErrs
	res.Stats.Imports = imports.CountByCategory(decls)
	res.Stats.ParseErrors = len(parseErrs)
	for _, pe := range parseErrs {
		o.logger.Warn("skipped import", "source", res.Source, "line", pe.Line, "reason", pe.Reason)
	}
	o.advance(res, PhaseParsed)

	resolution := o.resolver.ResolveAll(ctx, decls)
	res.Resolution = resolution
	res.Stats.Resolved = len(resolution.Packages)
	res.Stats.Unresolved = len(resolution.Unresolved)
	if err := ctx.Err(); err != nil {
		return &PhaseError{Phase: PhaseResolved, Err: err}
	}
	o.advance(res, PhaseResolved)
	return nil
}

// advance moves res to the next phase. An illegal transition is a
// programming error.
func (o *Orchestrator) advance(res *Result, to Phase) {
	if !canAdvance(res.Phase, to) {
		panic(fmt.Sprintf("build: illegal phase transition %s -> %s", res.Phase, to))
	}
	o.logger.Debug("phase", "from", res.Phase, "to", to)
	res.Phase = to
}

// prepareOutput creates the output root, retrying transient failures with
// exponential backoff up to cfg.Retries times.
func (o *Orchestrator) prepareOutput(ctx context.Context) error {
	var lastErr error
	for attempt := range o.cfg.Retries + 1 {
		if attempt > 0 {
			o.logger.Warn("retrying output preparation", "attempt", attempt, "err", lastErr)
			select {
			case <-ctx.Done():
				return fmt.Errorf("context cancelled during output retry: %w", ctx.Err())
			case <-time.After(baseRetryBackoff * time.Duration(1<<(attempt-1))):
			}
		}
		lastErr = o.fs.MkdirAll(ctx, o.destRoot)
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrOutputNotWritable, o.destRoot, lastErr)
}

// clearStaleTable empties an import map left by an earlier build, so a
// source that dropped its last framework import no longer maps anything.
// Failing to do so is only a warning.
func (o *Orchestrator) clearStaleTable(ctx context.Context, res *Result) {
	previous := o.readPrevious(ctx)
	if previous == nil || previous.Len() == 0 {
		return
	}
	path := o.AliasTablePath()
	table := aliastable.Build(nil, o.cfg.ImportMapBase())
	if err := table.WriteFile(ctx, o.fs, path); err != nil {
		msg := fmt.Sprintf("stale import map %s could not be cleared: %v", path, err)
		res.Warnings = append(res.Warnings, msg)
		o.logger.Warn(msg)
		return
	}
	res.AliasTable = table
	res.AliasTablePath = path
	res.Changes = aliastable.Diff(previous, table)
	o.logger.Info("cleared stale import map", "path", path, "removed", len(res.Changes.Removed))
}

// readPrevious loads the import map left by an earlier build. Any problem
// reading it means there is nothing to compare against.
func (o *Orchestrator) readPrevious(ctx context.Context) *aliastable.AliasTable {
	data, err := o.fs.ReadFile(ctx, o.AliasTablePath())
	if err != nil {
		return nil
	}
	prev, err := aliastable.Parse(data)
	if err != nil {
		o.logger.Debug("ignoring unreadable previous import map", "err", err)
		return nil
	}
	return prev
}

// HasErrors reports whether any import, package or file failed.
func (r *Result) HasErrors() bool {
	if len(r.ParseErrors) > 0 {
		return true
	}
	if r.Resolution != nil && r.Resolution.HasErrors() {
		return true
	}
	if r.Session == nil {
		return false
	}
	if r.Session.Failed > 0 {
		return true
	}
	for _, cr := range r.Session.Results {
		if cr.ScanError != "" {
			return true
		}
	}
	return false
}

// AllWarnings returns resolution warnings followed by build warnings.
func (r *Result) AllWarnings() []string {
	var out []string
	if r.Resolution != nil {
		out = append(out, r.Resolution.Warnings...)
	}
	return append(out, r.Warnings...)
}
