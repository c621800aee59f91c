// SPDX-License-Identifier: MPL-2.0

package imports

import (
	"fmt"
	"strings"
)

const (
	// KindNamed is `import { a, b as c } from "..."`.
	KindNamed Kind = "named"
	// KindDefault is `import X from "..."` and the bare `import "..."` form.
	KindDefault Kind = "default"
	// KindNamespace is `import * as NS from "..."`.
	KindNamespace Kind = "namespace"

	// CategoryFramework marks scoped specifiers resolved by modlink.
	CategoryFramework Category = "framework"
	// CategoryExternal marks bare specifiers modlink does not resolve.
	CategoryExternal Category = "external"
	// CategoryLocal marks relative or root-relative specifiers.
	CategoryLocal Category = "local"

	// DefaultSymbol is the original name recorded for default imports.
	DefaultSymbol = "default"
	// NamespaceSymbol is the original name recorded for namespace imports.
	NamespaceSymbol = "*"
)

type (
	// Kind is the shape of an import clause.
	Kind string

	// Category says who is responsible for resolving a specifier.
	Category string

	// Symbol is one binding introduced by an import clause. Alias is the
	// local name and equals Name when the import is not renamed.
	Symbol struct {
		Name  string `json:"name" yaml:"name" toml:"name"`
		Alias string `json:"alias" yaml:"alias" toml:"alias"`
	}

	// Declaration is a single parsed import statement.
	Declaration struct {
		// Specifier is the module specifier between the quotes.
		Specifier string `json:"specifier" yaml:"specifier" toml:"specifier"`
		// Kind is the clause shape. A clause mixing a default binding with
		// named bindings is KindNamed; with a namespace binding, KindNamespace.
		Kind Kind `json:"kind" yaml:"kind" toml:"kind"`
		// Symbols are the bindings in source order.
		Symbols []Symbol `json:"symbols,omitempty" yaml:"symbols,omitempty" toml:"symbols,omitempty"`
		// Line is the 1-based source line.
		Line int `json:"line" yaml:"line" toml:"line"`
		// Category is derived from Specifier and never changes after parsing.
		Category Category `json:"category" yaml:"category" toml:"category"`
	}

	// Counts tallies declarations per category.
	Counts struct {
		Framework int `json:"framework" yaml:"framework" toml:"framework"`
		External  int `json:"external" yaml:"external" toml:"external"`
		Local     int `json:"local" yaml:"local" toml:"local"`
	}

	// Classifier assigns categories. With no scopes configured every scoped
	// specifier is a framework import; otherwise only the listed scopes are.
	Classifier struct {
		scopes map[string]bool
	}
)

// String returns the string representation of the Kind.
func (k Kind) String() string { return string(k) }

// String returns the string representation of the Category.
func (c Category) String() string { return string(c) }

// LocalName returns the name bound in the importing module.
func (s Symbol) LocalName() string {
	if s.Alias != "" {
		return s.Alias
	}
	return s.Name
}

// String renders the symbol the way it appears in an import clause.
func (s Symbol) String() string {
	switch {
	case s.Name == NamespaceSymbol:
		return "* as " + s.Alias
	case s.Name == DefaultSymbol:
		return s.Alias
	case s.Alias == "" || s.Alias == s.Name:
		return s.Name
	default:
		return s.Name + " as " + s.Alias
	}
}

// NewClassifier returns a Classifier restricted to the given scopes. Scopes
// may be written with or without the leading "@".
func NewClassifier(scopes ...string) *Classifier {
	c := &Classifier{}
	for _, s := range scopes {
		s = strings.TrimPrefix(strings.TrimSpace(s), "@")
		if s == "" {
			continue
		}
		if c.scopes == nil {
			c.scopes = make(map[string]bool)
		}
		c.scopes[s] = true
	}
	return c
}

// Classify derives the category of specifier from its lexical form.
func (c *Classifier) Classify(specifier string) Category {
	if isLocalSpecifier(specifier) {
		return CategoryLocal
	}
	scope, _, ok := splitScoped(specifier)
	if !ok {
		return CategoryExternal
	}
	if c != nil && c.scopes != nil && !c.scopes[scope] {
		return CategoryExternal
	}
	return CategoryFramework
}

// Classify uses a Classifier that accepts every scope.
func Classify(specifier string) Category {
	return (*Classifier)(nil).Classify(specifier)
}

// PackageName returns the package part of the specifier:
// "@scope/widgets/button" gives "@scope/widgets", "lit/decorators.js" gives
// "lit". Local specifiers are returned unchanged.
func (d Declaration) PackageName() string {
	name, _ := SplitSpecifier(d.Specifier)
	return name
}

// Subpath returns the part of the specifier after the package name, without
// a leading slash.
func (d Declaration) Subpath() string {
	_, sub := SplitSpecifier(d.Specifier)
	return sub
}

// NamedSymbols returns the symbols that refer to named exports, skipping
// default and namespace bindings.
func (d Declaration) NamedSymbols() []Symbol {
	var out []Symbol
	for _, s := range d.Symbols {
		if s.Name == DefaultSymbol || s.Name == NamespaceSymbol {
			continue
		}
		out = append(out, s)
	}
	return out
}

// String renders the declaration back as a single import line.
func (d Declaration) String() string {
	if len(d.Symbols) == 0 && d.Kind == KindDefault {
		return fmt.Sprintf("import %q;", d.Specifier)
	}
	var head, named []string
	for _, s := range d.Symbols {
		if s.Name == DefaultSymbol || s.Name == NamespaceSymbol {
			head = append(head, s.String())
			continue
		}
		named = append(named, s.String())
	}
	if d.Kind == KindNamed {
		head = append(head, "{ "+strings.Join(named, ", ")+" }")
	}
	return fmt.Sprintf("import %s from %q;", strings.Join(head, ", "), d.Specifier)
}

// SplitSpecifier separates a bare specifier into package name and subpath.
func SplitSpecifier(specifier string) (name, subpath string) {
	if isLocalSpecifier(specifier) {
		return specifier, ""
	}
	if scope, rest, ok := splitScoped(specifier); ok {
		base, sub, _ := strings.Cut(rest, "/")
		return "@" + scope + "/" + base, sub
	}
	name, sub, _ := strings.Cut(specifier, "/")
	return name, sub
}

// ScopedBase returns the package name without its scope:
// "@scope/widgets" gives "widgets". Unscoped names are returned unchanged.
func ScopedBase(packageName string) string {
	if _, rest, ok := splitScoped(packageName); ok {
		base, _, _ := strings.Cut(rest, "/")
		return base
	}
	return packageName
}

// CountByCategory tallies decls per category.
func CountByCategory(decls []Declaration) Counts {
	var c Counts
	for _, d := range decls {
		switch d.Category {
		case CategoryFramework:
			c.Framework++
		case CategoryExternal:
			c.External++
		case CategoryLocal:
			c.Local++
		}
	}
	return c
}

// Total returns the number of counted declarations.
func (c Counts) Total() int { return c.Framework + c.External + c.Local }

func isLocalSpecifier(s string) bool {
	return s == "." || s == ".." ||
		strings.HasPrefix(s, "./") || strings.HasPrefix(s, "../") || strings.HasPrefix(s, "/")
}

// splitScoped splits "@scope/rest" into ("scope", "rest"). Both parts must
// be non-empty.
func splitScoped(s string) (scope, rest string, ok bool) {
	body, found := strings.CutPrefix(s, "@")
	if !found {
		return "", "", false
	}
	scope, rest, found = strings.Cut(body, "/")
	if !found || scope == "" || rest == "" || strings.HasPrefix(rest, "/") {
		return "", "", false
	}
	return scope, rest, true
}
