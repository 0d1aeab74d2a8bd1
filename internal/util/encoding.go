package util

import (
	"golang.org/x/text/unicode/norm"
)

// Normalize applies NFKC so visually equivalent identifiers (fullwidth
// forms, compatibility characters) compare equal before validation.
func Normalize(s string) string {
	return norm.NFKC.String(s)
}
