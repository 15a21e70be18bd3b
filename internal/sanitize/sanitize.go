// Package sanitize cleans user-supplied text before it is stored. Profile
// names are plain text shown by every client of the API, so markup is
// stripped rather than escaped.
package sanitize

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	policy     *bluemonday.Policy
	policyOnce sync.Once
)

// getPolicy returns the shared strict policy, initializing it on first call.
func getPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		policy = bluemonday.StrictPolicy()
	})
	return policy
}

// PlainText removes every HTML element from input and trims surrounding
// whitespace. Entities are decoded afterwards so "O'Brien" is stored as
// typed, not as "O&#39;Brien".
func PlainText(input string) string {
	if input == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(getPolicy().Sanitize(input)))
}
