// Package action executes click and fill requests against the live page:
// it resolves the active scope, matches the target, drives the browser and
// classifies what happened into typed results the tool layer can report.
package action

import (
	"regexp"
	"strings"
)

// Models often echo the dialog container into their selectors. A selector
// that is only the container is useless inside a dialog-scoped locator, and
// one that is prefixed with it would double-scope the query.
var (
	dialogPrefixRe = regexp.MustCompile(`(?i)^\s*(?:\[role\s*=\s*["'](?:dialog|alertdialog)["']\]|\[aria-modal\s*=\s*["']true["']\])\s*(.*)$`)
	combinatorRe   = regexp.MustCompile(`^[\s>+~]+`)
)

// StripDialogSelector removes a leading dialog-container clause from a
// selector used inside an active dialog. The second return is false when
// nothing usable remains, meaning the caller should fall back to text
// matching or reject the call.
func StripDialogSelector(sel string) (string, bool) {
	s := strings.TrimSpace(sel)
	if s == "" {
		return "", false
	}
	m := dialogPrefixRe.FindStringSubmatch(s)
	if m == nil {
		return s, true
	}
	rest := combinatorRe.ReplaceAllString(strings.TrimSpace(m[1]), "")
	if rest == "" {
		return "", false
	}
	return rest, true
}
