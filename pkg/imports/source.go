// SPDX-License-Identifier: MPL-2.0

package imports

// Source is the input to a build: either raw source text that still needs
// parsing, or declarations an external analyzer already produced.
type Source struct {
	name     string
	text     string
	decls    []Declaration
	preParse bool
}

// FromText wraps raw source text. name is used only for diagnostics.
func FromText(name, text string) Source {
	return Source{name: name, text: text}
}

// FromDeclarations wraps declarations parsed elsewhere.
func FromDeclarations(name string, decls []Declaration) Source {
	return Source{name: name, decls: decls, preParse: true}
}

// Name returns the diagnostic name of the source.
func (s Source) Name() string { return s.name }

// IsPreParsed reports whether the source was built from declarations.
func (s Source) IsPreParsed() bool { return s.preParse }

// Declarations returns the declarations of the source. Raw text is parsed
// with p. Pre-parsed declarations are copied and re-classified with p's
// classifier, so a caller-supplied Category can never disagree with the
// specifier.
func (s Source) Declarations(p *Parser) ([]Declaration, []*ParseError) {
	if p == nil {
		p = NewParser()
	}
	if !s.preParse {
		return p.Parse(s.text)
	}

	out := make([]Declaration, len(s.decls))
	for i, d := range s.decls {
		d.Symbols = append([]Symbol(nil), d.Symbols...)
		d.Category = p.classifier.Classify(d.Specifier)
		if d.Kind == "" {
			d.Kind = KindDefault
		}
		out[i] = d
	}
	return out, nil
}
