// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import "strings"

// DefaultNameMaxLen bounds derived session names.
const DefaultNameMaxLen = 48

const fallbackName = "New session"

// DeriveName builds a display name from the first message of a session:
// whitespace is collapsed, and the result is truncated to maxLen runes,
// preferring a word boundary in the second half and appending an
// ellipsis when cut.
func DeriveName(text string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultNameMaxLen
	}

	joined := strings.Join(strings.Fields(text), " ")
	if joined == "" {
		return fallbackName
	}

	runes := []rune(joined)
	if len(runes) <= maxLen {
		return joined
	}

	cut := string(runes[:maxLen])
	// Break at the last space unless that would leave less than half the
	// budget (a single long word is cut mid-word instead).
	if i := strings.LastIndex(cut, " "); i > maxLen/2 {
		cut = cut[:i]
	}
	return cut + "…"
}
