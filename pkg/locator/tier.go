// SPDX-License-Identifier: MPL-2.0

package locator

import (
	"fmt"
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"
)

const (
	// TierFramework is the framework installation directory.
	TierFramework TierKind = "framework"
	// TierWorkspace is the project-local package directory.
	TierWorkspace TierKind = "workspace"
	// TierCache is the per-user package cache.
	TierCache TierKind = "cache"

	placeholderName      = "{name}"
	placeholderScope     = "{scope}"
	placeholderBase      = "{base}"
	placeholderWorkspace = "{workspace}"
)

type (
	// TierKind names the class of a search tier.
	TierKind string

	// SearchTier is one entry of the search order. Template is a directory
	// path that may reference shell parameters ($HOME, ${VAR:-default}) and
	// the placeholders {name}, {scope}, {base} and {workspace}.
	SearchTier struct {
		Kind     TierKind `json:"kind" yaml:"kind" toml:"kind" mapstructure:"kind"`
		Template string   `json:"template" yaml:"template" toml:"template" mapstructure:"template"`
	}

	// expandedTier is a SearchTier with shell parameters already expanded.
	expandedTier struct {
		kind     TierKind
		template string
	}
)

// DefaultTiers returns the built-in search order.
func DefaultTiers() []SearchTier {
	return []SearchTier{
		{Kind: TierFramework, Template: "${MODLINK_FRAMEWORK_DIR:-/usr/local/share/modlink}/packages/{base}"},
		{Kind: TierWorkspace, Template: "{workspace}/node_modules/{name}"},
		{Kind: TierCache, Template: "${MODLINK_CACHE_DIR:-${XDG_CACHE_HOME:-$HOME/.cache}/modlink}/packages/{name}"},
	}
}

// ParseTierKind converts s into a TierKind.
func ParseTierKind(s string) (TierKind, error) {
	k := TierKind(strings.ToLower(strings.TrimSpace(s)))
	if err := k.Validate(); err != nil {
		return "", err
	}
	return k, nil
}

// Validate reports whether k is a known tier kind.
func (k TierKind) Validate() error {
	switch k {
	case TierFramework, TierWorkspace, TierCache:
		return nil
	default:
		return fmt.Errorf("unknown tier kind %q (valid: framework, workspace, cache)", string(k))
	}
}

// String returns the tier kind name.
func (k TierKind) String() string { return string(k) }

// String renders the tier as "kind: template".
func (t SearchTier) String() string {
	return fmt.Sprintf("%s: %s", t.Kind, t.Template)
}

// expandTemplate expands shell parameters in tmpl against env. Placeholders
// survive expansion untouched because braces are literal in a shell word.
func expandTemplate(tmpl string, env expand.Environ) (string, error) {
	word, err := syntax.NewParser().Document(strings.NewReader(tmpl))
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}
	out, err := expand.Document(&expand.Config{Env: env}, word)
	if err != nil {
		return "", fmt.Errorf("failed to expand template: %w", err)
	}
	return out, nil
}

// dir fills the placeholders of an expanded tier for one package.
func (t expandedTier) dir(n packageName, workspace string) string {
	r := strings.NewReplacer(
		placeholderWorkspace, workspace,
		placeholderName, n.full,
		placeholderScope, n.scope,
		placeholderBase, n.base,
	)
	return filepath.Clean(filepath.FromSlash(r.Replace(t.template)))
}

func hasNamePlaceholder(tmpl string) bool {
	return strings.Contains(tmpl, placeholderName) || strings.Contains(tmpl, placeholderBase)
}
