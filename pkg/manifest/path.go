// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"path"
	"strings"
)

// NormalizeEntry cleans a manifest-declared entry path:
//
//   - backslashes become forward slashes
//   - leading "./" markers are stripped
//   - runs of "/" collapse to one
//   - a doubled trailing extension ("index.js.js") collapses to one
//   - with rooted set, the result starts with exactly one "/"
//
// NormalizeEntry is idempotent.
func NormalizeEntry(p string, rooted bool) string {
	p = strings.ReplaceAll(p, `\`, "/")
	p = collapseSlashes(p)
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	p = collapseDoubleExt(p)

	if rooted {
		return "/" + strings.TrimLeft(p, "/")
	}
	return p
}

// collapseSlashes replaces every run of "/" with a single "/".
func collapseSlashes(p string) string {
	if !strings.Contains(p, "//") {
		return p
	}
	var sb strings.Builder
	sb.Grow(len(p))
	prevSlash := false
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

// collapseDoubleExt turns "x.js.js" into "x.js". Different stacked
// extensions ("x.min.js", "x.d.ts") are left alone.
func collapseDoubleExt(p string) string {
	for {
		ext := path.Ext(p)
		if ext == "" || ext == "." {
			return p
		}
		stem := strings.TrimSuffix(p, ext)
		if path.Ext(stem) != ext {
			return p
		}
		p = stem
	}
}
