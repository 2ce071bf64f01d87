// Package domain models public events scheduled inside a single urban park
// and the rules that turn noisy source listings into a clean event store.
//
// # Record Lifecycle
//
// Every source adapter emits [RawCandidate] values: one per discovered event,
// never mutated afterwards. The pipeline then applies, in order:
//
//	Filter.Check   → drop candidates outside the park or off-topic
//	Canonicalize   → trim fields, normalize the date, resolve the URL
//	Merge          → fold into the existing store by [DedupKey]
//	SortByDate     → stable ascending order for persistence
//
// # Date Conventions
//
// Event calendars usually omit the year. [NormalizeDate] and
// [NormalizeAbbrevDate] infer it with [InferYear]: a month/day earlier than
// the reference day is assumed to be next year, anything else this year.
// The reference day is "today" in the park's time zone, read from the package
// clock so tests can pin it with [SetClock].
//
//	"December 5" @ 2024-06-01 → 2024-12-05
//	"March 3"    @ 2024-06-01 → 2025-03-03
//	"June 1"     @ 2024-06-01 → 2024-06-01
//
// # Identity
//
// Two events with the same case-insensitive trimmed name and the same date
// are the same real-world event. On collision the record with the strictly
// longer description wins; ties keep whichever was seen first. No source is
// authoritative, so description length stands in for completeness.
//
// # Relevance Policies
//
// Each source is assigned a [Policy] naming the predicate set applied to its
// candidates. Reliable structured sources only need a location test; listing
// sites that mix every kind of event also need a running keyword tied to an
// explicit park mention. See [Filter].
package domain
