// SPDX-License-Identifier: MPL-2.0

package imports

import (
	"bufio"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrParse is the sentinel wrapped by ParseError.
var ErrParse = errors.New("malformed import")

var (
	// import <clause> from "<specifier>"
	fromImportPattern = regexp.MustCompile(`^import\s+(.+?)\s+from\s*(?:"([^"]*)"|'([^']*)')\s*;?\s*(?://.*)?$`)
	// import "<specifier>"
	bareImportPattern = regexp.MustCompile(`^import\s*(?:"([^"]*)"|'([^']*)')\s*;?\s*(?://.*)?$`)
	namespacePattern  = regexp.MustCompile(`^\*\s*as\s+([A-Za-z_$][\w$]*)$`)
	identPattern      = regexp.MustCompile(`^[A-Za-z_$][\w$]*$`)
)

type (
	// ParseError describes one line that looked like an import but could
	// not be parsed. Parsing continues with the next line.
	ParseError struct {
		Line   int
		Text   string
		Reason string
	}

	// Parser turns source text into declarations.
	Parser struct {
		classifier *Classifier
	}

	// ParserOption configures a Parser.
	ParserOption func(*Parser)
)

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s: %s", e.Line, e.Reason, strings.TrimSpace(e.Text))
}

// Unwrap returns ErrParse so callers can use errors.Is.
func (e *ParseError) Unwrap() error { return ErrParse }

// WithFrameworkScopes limits framework classification to the given scopes.
func WithFrameworkScopes(scopes ...string) ParserOption {
	return func(p *Parser) {
		p.classifier = NewClassifier(scopes...)
	}
}

// NewParser creates a Parser.
func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{classifier: NewClassifier()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse parses src with a Parser that treats every scope as framework.
func Parse(src string) ([]Declaration, []*ParseError) {
	return NewParser().Parse(src)
}

// Classifier returns the classifier used by the parser.
func (p *Parser) Classifier() *Classifier { return p.classifier }

// Parse scans src line by line and returns the declarations it finds in
// source order, plus one ParseError for every malformed import line.
func (p *Parser) Parse(src string) ([]Declaration, []*ParseError) {
	var (
		decls   []Declaration
		errs    []*ParseError
		inBlock bool
		lineNo  int
	)

	sc := bufio.NewScanner(strings.NewReader(src))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())

		line, inBlock = stripBlockComment(line, inBlock)
		if inBlock && line == "" {
			continue
		}
		if !isImportLine(line) {
			continue
		}

		decl, err := p.parseLine(line)
		if err != nil {
			errs = append(errs, &ParseError{Line: lineNo, Text: sc.Text(), Reason: err.Error()})
			continue
		}
		if decl == nil {
			continue
		}
		decl.Line = lineNo
		decls = append(decls, *decl)
	}

	return decls, errs
}

// parseLine parses a single trimmed import line. A nil declaration with a
// nil error means the line is an import form modlink ignores (type-only).
func (p *Parser) parseLine(line string) (*Declaration, error) {
	if strings.HasPrefix(line, "import type ") || strings.HasPrefix(line, "import typeof ") {
		return nil, nil
	}

	if m := bareImportPattern.FindStringSubmatch(line); m != nil {
		spec := m[1] + m[2]
		if spec == "" {
			return nil, errors.New("empty module specifier")
		}
		return &Declaration{
			Specifier: spec,
			Kind:      KindDefault,
			Category:  p.classifier.Classify(spec),
		}, nil
	}

	m := fromImportPattern.FindStringSubmatch(line)
	if m == nil {
		if !strings.Contains(line, " from ") && !strings.Contains(line, "}") &&
			(strings.HasSuffix(line, "{") || strings.HasSuffix(line, ",") || strings.Contains(line, "{")) {
			return nil, errors.New("multi-line import statements are not supported")
		}
		return nil, errors.New("unrecognized import syntax")
	}

	spec := m[2] + m[3]
	if spec == "" {
		return nil, errors.New("empty module specifier")
	}

	kind, symbols, err := parseClause(strings.TrimSpace(m[1]))
	if err != nil {
		return nil, err
	}

	return &Declaration{
		Specifier: spec,
		Kind:      kind,
		Symbols:   symbols,
		Category:  p.classifier.Classify(spec),
	}, nil
}

// parseClause handles the three clause shapes and their combination with a
// leading default binding.
func parseClause(clause string) (Kind, []Symbol, error) {
	var symbols []Symbol

	if clause != "" && clause[0] != '{' && clause[0] != '*' {
		def, rest, hasRest := strings.Cut(clause, ",")
		def = strings.TrimSpace(def)
		if !identPattern.MatchString(def) {
			return "", nil, fmt.Errorf("invalid default binding %q", def)
		}
		symbols = append(symbols, Symbol{Name: DefaultSymbol, Alias: def})
		if !hasRest {
			return KindDefault, symbols, nil
		}
		clause = strings.TrimSpace(rest)
		if clause == "" {
			return "", nil, errors.New("dangling comma after default binding")
		}
	}

	switch {
	case strings.HasPrefix(clause, "*"):
		m := namespacePattern.FindStringSubmatch(clause)
		if m == nil {
			return "", nil, fmt.Errorf("invalid namespace clause %q", clause)
		}
		return KindNamespace, append(symbols, Symbol{Name: NamespaceSymbol, Alias: m[1]}), nil

	case strings.HasPrefix(clause, "{"):
		named, err := parseNamedList(clause)
		if err != nil {
			return "", nil, err
		}
		return KindNamed, append(symbols, named...), nil
	}

	return "", nil, fmt.Errorf("invalid import clause %q", clause)
}

// parseNamedList parses "{ a, b as c, }".
func parseNamedList(clause string) ([]Symbol, error) {
	if !strings.HasSuffix(clause, "}") {
		return nil, errors.New("unterminated named import list")
	}
	body := strings.TrimSpace(clause[1 : len(clause)-1])
	if strings.ContainsAny(body, "{}") {
		return nil, errors.New("nested braces in named import list")
	}

	var out []Symbol
	for item := range strings.SplitSeq(body, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		item = strings.TrimPrefix(item, "type ")

		fields := strings.Fields(item)
		switch {
		case len(fields) == 1 && identPattern.MatchString(fields[0]):
			out = append(out, Symbol{Name: fields[0], Alias: fields[0]})
		case len(fields) == 3 && fields[1] == "as" &&
			identPattern.MatchString(fields[0]) && identPattern.MatchString(fields[2]):
			out = append(out, Symbol{Name: fields[0], Alias: fields[2]})
		default:
			return nil, fmt.Errorf("invalid named import %q", item)
		}
	}
	return out, nil
}

// isImportLine reports whether a trimmed line starts an import declaration.
// Dynamic import() calls and import.meta expressions are not declarations.
func isImportLine(line string) bool {
	rest, ok := strings.CutPrefix(line, "import")
	if !ok || rest == "" {
		return false
	}
	switch rest[0] {
	case ' ', '\t', '{', '*', '"', '\'':
		return true
	}
	return false
}

// stripBlockComment removes /* ... */ comment text from a trimmed line and
// reports whether a block comment is still open at the end of it.
func stripBlockComment(line string, inBlock bool) (string, bool) {
	if inBlock {
		_, after, closed := strings.Cut(line, "*/")
		if !closed {
			return "", true
		}
		line = strings.TrimSpace(after)
	}
	for strings.HasPrefix(line, "/*") {
		_, after, closed := strings.Cut(line[2:], "*/")
		if !closed {
			return "", true
		}
		line = strings.TrimSpace(after)
	}
	return line, false
}
