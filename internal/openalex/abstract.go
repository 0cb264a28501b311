// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package openalex

import "strings"

// ReconstructAbstract converts OpenAlex's abstract_inverted_index back to
// plain text. The index maps each word to the positions where it occurs; the
// words are laid out by position and joined with single spaces.
//
// A nil or empty index yields nil. The index is not validated: positions that
// are never filled stay empty strings, and when two words claim the same
// position the one written last wins, which depends on map iteration order.
// Negative positions cannot be placed and are ignored.
func ReconstructAbstract(index map[string][]int) *string {
	if len(index) == 0 {
		return nil
	}

	maxPos := -1
	for _, positions := range index {
		for _, p := range positions {
			if p > maxPos {
				maxPos = p
			}
		}
	}
	if maxPos < 0 {
		return nil
	}

	words := make([]string, maxPos+1)
	for word, positions := range index {
		for _, p := range positions {
			if p >= 0 {
				words[p] = word
			}
		}
	}

	text := strings.Join(words, " ")
	return &text
}
