// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/charmbracelet/log"

	"github.com/modlink/modlink/internal/build"
	"github.com/modlink/modlink/internal/config"
	"github.com/modlink/modlink/internal/issue"
	"github.com/modlink/modlink/pkg/locator"
	"github.com/modlink/modlink/pkg/types"
)

// ServiceError is an error that carries optional rendering information for
// the CLI layer. When the CLI layer receives a ServiceError, it renders the
// styled error message (if present) before the catalog entry.
// Always create via newServiceError to enforce the Err-must-be-non-nil invariant.
type ServiceError struct {
	// Err is the underlying error (must not be nil).
	Err error
	// IssueID is the optional issue catalog ID for rendering help text.
	IssueID issue.Id
	// StyledMessage is the optional pre-rendered styled error text.
	StyledMessage string
}

// newServiceError creates a ServiceError with a nil-Err panic guard.
func newServiceError(err error, issueID issue.Id, styledMessage string) *ServiceError {
	if err == nil {
		panic("ServiceError: Err must not be nil")
	}
	return &ServiceError{
		Err:           err,
		IssueID:       issueID,
		StyledMessage: styledMessage,
	}
}

// Error implements the error interface.
func (e *ServiceError) Error() string { return e.Err.Error() }

// Unwrap returns the underlying error for errors.Is/As chains.
func (e *ServiceError) Unwrap() error { return e.Err }

// renderServiceError prints any styled message first, then the optional
// issue help section.
func renderServiceError(stderr io.Writer, svcErr *ServiceError) {
	if svcErr == nil {
		return
	}

	if svcErr.StyledMessage != "" {
		fmt.Fprint(stderr, svcErr.StyledMessage)
	}

	if svcErr.IssueID == 0 {
		return
	}
	renderIssue(stderr, svcErr.IssueID)
}

// renderIssue prints the catalog entry for id, if there is one.
func renderIssue(w io.Writer, id issue.Id) {
	catalogEntry := issue.Get(id)
	if catalogEntry == nil {
		return
	}
	rendered, err := catalogEntry.Render("dark")
	if err != nil {
		log.Warn("failed to render issue catalog entry", "issueID", id, "error", err)
		return
	}
	fmt.Fprint(w, rendered)
}

// classifyError maps a fatal error to the catalog entry that explains it and
// the process exit code. Errors that already are ServiceErrors keep their
// catalog entry.
func classifyError(err error) (*ServiceError, types.ExitCode) {
	code := types.ExitFailure
	if errors.Is(err, errConfigLoad) || errors.Is(err, build.ErrConfiguration) || errors.Is(err, config.ErrInvalidConfig) {
		code = types.ExitConfig
	}

	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr, code
	}

	var (
		id issue.Id
		ae *issue.ActionableError
	)
	switch {
	case errors.As(err, &ae) && ae.Issue != 0:
		id = ae.Issue
	case errors.Is(err, locator.ErrInvalidTiers):
		id = issue.InvalidSearchTiersId
	case code == types.ExitConfig:
		id = issue.ConfigLoadFailedId
	case errors.Is(err, build.ErrOutputNotWritable):
		id = issue.OutputNotWritableId
	case errors.Is(err, fs.ErrPermission):
		id = issue.PermissionDeniedId
	}
	return newServiceError(err, id, styledFailure(err)), code
}

// styledFailure renders the header card printed for a fatal error.
// Actionable errors contribute their suggestions.
func styledFailure(err error) string {
	msg := err.Error()
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		msg = ae.Format(false)
	}
	return renderHeaderStyle.Render("✗ modlink failed") + "\n" +
		renderValueStyle.Render(msg) + "\n"
}
