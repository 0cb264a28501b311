// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package openalex

import "strings"

// IDPrefix is the URL prefix OpenAlex puts in front of work identifiers.
const IDPrefix = "https://openalex.org/"

// NormalizeID strips the OpenAlex URL prefix, so "https://openalex.org/W123"
// and "W123" name the same work.
func NormalizeID(id string) string {
	return strings.TrimPrefix(id, IDPrefix)
}

// NormalizeIDs applies NormalizeID to every element, preserving order.
func NormalizeIDs(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = NormalizeID(id)
	}
	return out
}
