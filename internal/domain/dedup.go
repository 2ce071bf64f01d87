package domain

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// DedupKey is the identity of an event: lowercased trimmed name plus date.
func DedupKey(e CanonicalEvent) string {
	return strings.ToLower(strings.TrimSpace(e.Name)) + "_" + e.Date
}

// Merge folds incoming into existing by DedupKey and returns the union in
// first-seen key order. On a key collision the record with the strictly
// longer description (counted in runes) replaces the incumbent; ties keep the
// incumbent. Neither input slice is modified.
func Merge(existing, incoming []CanonicalEvent) []CanonicalEvent {
	index := make(map[string]int, len(existing)+len(incoming))
	out := make([]CanonicalEvent, 0, len(existing)+len(incoming))

	fold := func(e CanonicalEvent) {
		key := DedupKey(e)
		i, ok := index[key]
		if !ok {
			index[key] = len(out)
			out = append(out, e)
			return
		}
		if moreInformative(e, out[i]) {
			out[i] = e
		}
	}

	for _, e := range existing {
		fold(e)
	}
	for _, e := range incoming {
		fold(e)
	}
	return out
}

func moreInformative(candidate, incumbent CanonicalEvent) bool {
	return utf8.RuneCountInString(candidate.Description) > utf8.RuneCountInString(incumbent.Description)
}

// SortByDate orders events ascending by date, keeping the relative order of
// events on the same day.
func SortByDate(events []CanonicalEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Date < events[j].Date
	})
}

// ChangeKind labels an entry in a change set.
type ChangeKind string

const (
	ChangeInserted ChangeKind = "inserted"
	ChangeReplaced ChangeKind = "replaced"
)

// Change is a record that differs between two snapshots of the store.
type Change struct {
	Kind  ChangeKind
	Event CanonicalEvent
}

// Changes lists the records in merged that are new relative to existing or
// that replaced an existing record under the same key.
func Changes(existing, merged []CanonicalEvent) []Change {
	before := make(map[string]CanonicalEvent, len(existing))
	for _, e := range existing {
		before[DedupKey(e)] = e
	}

	var changes []Change
	for _, e := range merged {
		prev, ok := before[DedupKey(e)]
		switch {
		case !ok:
			changes = append(changes, Change{Kind: ChangeInserted, Event: e})
		case prev != e:
			changes = append(changes, Change{Kind: ChangeReplaced, Event: e})
		}
	}
	return changes
}

// EventID is a deterministic identifier derived from the dedup key, suitable
// as a message key for idempotent downstream upserts.
func EventID(e CanonicalEvent) string {
	h := sha256.Sum256([]byte(DedupKey(e)))
	return fmt.Sprintf("%x", h[:16])
}
