// Package analyzer matches committed transcript text against a
// keyword index and publishes reference annotations for listeners
// that render source material alongside the translation.
package analyzer

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Index is a set of keyword phrases, each mapping to the references
// it evidences. Read-only after load.
type Index struct {
	entries []entry
}

type entry struct {
	tokens []string
	refs   []string
}

// LoadIndex reads a JSON object of phrase -> references. An empty
// path yields an empty index.
func LoadIndex(path string) (*Index, error) {
	ix := &Index{}
	if path == "" {
		return ix, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keyword index: %w", err)
	}
	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse keyword index: %w", err)
	}
	for phrase, refs := range raw {
		tokens := tokenize(phrase)
		if len(tokens) == 0 || len(refs) == 0 {
			continue
		}
		ix.entries = append(ix.entries, entry{tokens: tokens, refs: refs})
	}
	sort.Slice(ix.entries, func(i, j int) bool {
		return strings.Join(ix.entries[i].tokens, " ") < strings.Join(ix.entries[j].tokens, " ")
	})
	return ix, nil
}

// Len returns the number of indexed phrases.
func (ix *Index) Len() int { return len(ix.entries) }

// Analyze returns the sorted, distinct references whose phrases occur
// in text. Matching is on normalized token sequences.
func (ix *Index) Analyze(text string) []string {
	if len(ix.entries) == 0 {
		return nil
	}
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	var refs []string
	for _, e := range ix.entries {
		if !containsSequence(tokens, e.tokens) {
			continue
		}
		for _, ref := range e.refs {
			if _, dup := seen[ref]; dup {
				continue
			}
			seen[ref] = struct{}{}
			refs = append(refs, ref)
		}
	}
	sort.Strings(refs)
	return refs
}

func containsSequence(haystack, needle []string) bool {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return false
	}
outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j, tok := range needle {
			if haystack[i+j] != tok {
				continue outer
			}
		}
		return true
	}
	return false
}

var phrasePunct = strings.NewReplacer(".", "", ",", "", "!", "", "?", "", ";", "", ":", "", "…", "", "\"", "", "'", "")

func tokenize(s string) []string {
	return strings.Fields(phrasePunct.Replace(strings.ToLower(s)))
}
