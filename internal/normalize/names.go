package normalize

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// CollapseSpace trims s and collapses every run of Unicode whitespace
// (including non-breaking spaces) into a single ASCII space. Case and
// spelling are left alone.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Key returns the comparison key for a name: NFC-normalized, whitespace
// collapsed and case-folded. "ACME  Co." and "acme co." share a key;
// "Acme Co" and "Acme Co." do not.
func Key(name string) string {
	return folder.String(norm.NFC.String(CollapseSpace(name)))
}
