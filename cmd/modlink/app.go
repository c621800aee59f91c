// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/modlink/modlink/internal/build"
	"github.com/modlink/modlink/internal/config"
)

// errConfigLoad marks failures to read or decode configuration files.
var errConfigLoad = errors.New("failed to load configuration")

type (
	// App wires CLI services and shared dependencies. Every Cobra handler
	// receives an App reference and reaches configuration and output
	// through it.
	App struct {
		Config config.Provider
		stdout io.Writer
		stderr io.Writer
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config config.Provider
		Stdout io.Writer
		Stderr io.Writer
	}

	// session is the per-invocation state shared by the build commands.
	session struct {
		cfg        *config.Config
		configPath string
		workDir    string
		logger     *log.Logger
	}
)

// NewApp creates the CLI composition root.
func NewApp(deps Dependencies) (*App, error) {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}

	return &App{
		Config: deps.Config,
		stdout: deps.Stdout,
		stderr: deps.Stderr,
	}, nil
}

// newSession loads configuration for the working directory and hands it to
// override, when set, before anything reads it.
func (a *App) newSession(ctx context.Context, flags *rootFlagValues, override func(*config.Config)) (*session, error) {
	workDir, err := resolveWorkDir(flags.workDir)
	if err != nil {
		return nil, err
	}

	cfg, path, err := a.Config.Load(ctx, config.LoadOptions{
		ConfigFilePath: flags.configPath,
		WorkDir:        workDir,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errConfigLoad, err)
	}
	if override != nil {
		override(cfg)
	}

	level := cfg.Level()
	if flags.verbose {
		level = log.DebugLevel
	}
	logger := log.NewWithOptions(a.stderr, log.Options{
		Prefix: "modlink",
		Level:  level,
	})

	return &session{
		cfg:        cfg,
		configPath: path,
		workDir:    workDir,
		logger:     logger,
	}, nil
}

// orchestrator builds the pipeline for the session.
func (s *session) orchestrator(opts ...build.Option) (*build.Orchestrator, error) {
	opts = append([]build.Option{
		build.WithWorkspace(s.workDir),
		build.WithLogger(s.logger),
	}, opts...)
	return build.New(s.cfg, opts...)
}

// resolveWorkDir returns the absolute workspace directory.
func resolveWorkDir(dir string) (string, error) {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get working directory: %w", err)
		}
		return wd, nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve workdir %s: %w", dir, err)
	}
	return abs, nil
}
