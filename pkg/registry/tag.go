package registry

import (
	"fmt"
	"strings"

	"github.com/asaskevich/govalidator"
)

// tagPattern is the dotted-lowercase-with-underscores shape every type tag
// must match: two or more segments, each a lowercase letter followed by
// lowercase letters/digits/underscores, joined by dots. "account.deposit",
// "transfer.money_deposited"; a single segment such as "account" is rejected.
const tagPattern = `^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)+$`

// Tag derives a dispatch tag from a module prefix and a dotted, CamelCase
// qualified name, e.g. Tag("Bank.Account", "Bank.Account.Transfer.MoneyDeposited")
// == "transfer.money_deposited". Each segment of the name that remains
// after stripping the prefix is camelize-split-joined: split on internal
// case changes, lowercased, and rejoined with underscores; the segments
// themselves stay joined with dots.
func Tag(prefix, qualifiedName string) (string, error) {
	rest := qualifiedName
	if prefix != "" {
		trimmed := strings.TrimPrefix(qualifiedName, prefix+".")
		if trimmed == qualifiedName {
			return "", fmt.Errorf("registry: %q is not qualified by prefix %q", qualifiedName, prefix)
		}
		rest = trimmed
	}
	if rest == "" {
		return "", fmt.Errorf("registry: empty name after stripping prefix %q", prefix)
	}

	segments := strings.Split(rest, ".")
	for i, seg := range segments {
		segments[i] = snakeCase(seg)
	}
	return strings.Join(segments, "."), nil
}

// snakeCase converts a single CamelCase identifier segment to snake_case:
// "MoneyDeposited" -> "money_deposited".
func snakeCase(seg string) string {
	var b strings.Builder
	runes := []rune(seg)
	for i, r := range runes {
		if i > 0 && isUpper(r) && !isUpper(runes[i-1]) {
			b.WriteByte('_')
		}
		if i > 0 && isUpper(r) && i+1 < len(runes) && isLower(runes[i+1]) && isUpper(runes[i-1]) {
			b.WriteByte('_')
		}
		b.WriteRune(toLower(r))
	}
	return b.String()
}

func isUpper(r rune) bool { return r >= 'A' && r <= 'Z' }
func isLower(r rune) bool { return r >= 'a' && r <= 'z' }
func toLower(r rune) rune {
	if isUpper(r) {
		return r + ('a' - 'A')
	}
	return r
}

// ValidTag reports whether s has the well-formed dotted-lowercase shape
// RegisterCommand/RegisterEvent require.
func ValidTag(s string) bool {
	return govalidator.Matches(s, tagPattern)
}
