package pki

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/vpnforge/vpnforge/internal/util"
)

// namePattern bounds client identifiers to a path-safe, shell-safe alphabet.
// Names become file names and toolkit arguments verbatim.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{2,64}$`)

// reservedNames can never be client identifiers regardless of the pattern.
var reservedNames = map[string]struct{}{
	"ca":     {},
	"server": {},
}

// NormalizeName folds and validates a client identifier. The returned form
// is canonical: it is what appears in store paths, toolkit arguments, and
// the certificate subject.
func NormalizeName(name string) (string, error) {
	n := util.Normalize(strings.TrimSpace(name))
	if !namePattern.MatchString(n) {
		return "", fmt.Errorf("%q: %w", name, ErrInvalidIdentifier)
	}
	if _, ok := reservedNames[strings.ToLower(n)]; ok {
		return "", fmt.Errorf("%q is reserved: %w", name, ErrInvalidIdentifier)
	}
	return n, nil
}
