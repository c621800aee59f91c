// SPDX-License-Identifier: MPL-2.0

package aliastable

import "strings"

// NormalizeURLPath cleans an output path for use in an import map:
// backslashes become "/", "." segments and repeated separators are dropped,
// and the result has exactly one leading "/". A scheme and host prefix
// ("https://cdn.example.com") is kept as is and only the path after it is
// cleaned. NormalizeURLPath is idempotent.
func NormalizeURLPath(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")

	prefix := ""
	if scheme, rest, ok := strings.Cut(p, "://"); ok && scheme != "" && !strings.Contains(scheme, "/") {
		host, path, _ := strings.Cut(rest, "/")
		prefix = scheme + "://" + host
		p = path
	}

	segments := strings.Split(p, "/")
	kept := segments[:0]
	for _, s := range segments {
		if s == "" || s == "." {
			continue
		}
		kept = append(kept, s)
	}
	return prefix + "/" + strings.Join(kept, "/")
}

// JoinURLPath joins elements with "/" and normalizes the result.
func JoinURLPath(elem ...string) string {
	return NormalizeURLPath(strings.Join(elem, "/"))
}
