// Package normalize canonicalizes actor logins and repository names before they are
// hashed into synthetic ids or compared against bot conventions
// Pipeline order
// 1 UTF-8 repair drop invalid bytes
// 2 Unicode NFKC normalization
// 3 Case folding
// 4 Remove format characters (zero-width joiners, BOM)
// 5 Width fold fullwidth to ASCII
// 6 Trim surrounding whitespace and slashes
package normalize

import (
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// BotSuffix is the GitHub convention for app and bot accounts
const BotSuffix = "[bot]"

// pool of fresh transformer chains; a chain is stateful and not safe for concurrent use
var chainPool = sync.Pool{
	New: func() any {
		return transform.Chain(
			norm.NFKC,
			cases.Fold(),
			runes.Remove(runes.In(unicode.Cf)),
			width.Fold,
		)
	},
}

// Fold returns the canonical comparison form of an identifier
func Fold(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ToValidUTF8(s, "")

	tr := chainPool.Get().(transform.Transformer)
	out, _, err := transform.String(tr, s)
	tr.Reset()
	chainPool.Put(tr)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return strings.TrimSpace(out)
}

// Login canonicalizes an actor login
func Login(s string) string { return Fold(s) }

// RepoName canonicalizes "owner/repo"; surrounding slashes and a trailing .git are dropped
func RepoName(s string) string {
	s = Fold(s)
	s = strings.Trim(s, "/")
	s = strings.TrimSuffix(s, ".git")
	return s
}

// IsBot reports whether login follows the bot naming convention
func IsBot(login string) bool {
	if login == "" {
		return false
	}
	return strings.HasSuffix(Fold(login), BotSuffix)
}
