// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieve

import (
	"sort"
	"strings"

	"github.com/AleutianAI/Kodiak/services/kodiak/datatypes"
)

// Multiplicative boosts applied by Rerank, in application order. Boosts
// compound when more than one signal fires.
const (
	// identifierBoost rewards a symbol name mentioned in the question.
	identifierBoost = 1.3

	// pathBoost rewards a file path mentioned in the question.
	pathBoost = 1.2

	// dependencyBoost rewards records with recorded dependencies, which
	// carry more explanatory context into the answer prompt.
	dependencyBoost = 1.1
)

// Rerank adjusts candidate scores against the question and sorts them.
//
// Description:
//
//	Pure ranking pass over an already-scored candidate list. Each record's
//	score is multiplied by identifierBoost when its symbol name contains
//	any whitespace-delimited question token (case-insensitive), by
//	pathBoost when its file path contains any token, and by
//	dependencyBoost when it has at least one recorded dependency. The
//	boosted list is then stable-sorted by descending score, so candidates
//	with equal scores keep their incoming order.
//
// Inputs:
//
//	question - The natural-language question, tokenized on whitespace.
//	records - Scored candidates; not mutated.
//
// Outputs:
//
//	[]datatypes.ScoredRecord - A new slice, best first.
//
// Thread Safety: Pure function, safe for concurrent use.
func Rerank(question string, records []datatypes.ScoredRecord) []datatypes.ScoredRecord {
	tokens := strings.Fields(strings.ToLower(question))

	ranked := make([]datatypes.ScoredRecord, len(records))
	copy(ranked, records)

	for i := range ranked {
		if containsAnyToken(ranked[i].Identifier, tokens) {
			ranked[i].Score *= identifierBoost
		}
		if containsAnyToken(ranked[i].FilePath, tokens) {
			ranked[i].Score *= pathBoost
		}
		if len(ranked[i].Dependencies) > 0 {
			ranked[i].Score *= dependencyBoost
		}
	}

	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].Score > ranked[b].Score
	})
	return ranked
}

// containsAnyToken reports whether the lowercased subject contains any of
// the tokens as a substring. An empty subject matches nothing.
func containsAnyToken(subject string, tokens []string) bool {
	if subject == "" {
		return false
	}
	lower := strings.ToLower(subject)
	for _, tok := range tokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}
