package store

import (
	"fmt"
	"sort"

	"github.com/roach88/cashutrack/internal/token"
)

// Snapshot maps a funding source to its live records in admission order.
type Snapshot map[string][]token.Record

// Len returns the total number of records across all funding sources.
func (s Snapshot) Len() int {
	n := 0
	for _, records := range s {
		n += len(records)
	}
	return n
}

// Sources returns the funding sources with at least one record, sorted.
func (s Snapshot) Sources() []string {
	sources := make([]string, 0, len(s))
	for source, records := range s {
		if len(records) > 0 {
			sources = append(sources, source)
		}
	}
	sort.Strings(sources)
	return sources
}

// validate checks that every record is live, belongs to the queue it is
// listed under, and appears only once.
func (s Snapshot) validate() error {
	seen := make(map[string]string, s.Len())
	for source, records := range s {
		for _, r := range records {
			if r.ID == "" {
				return fmt.Errorf("record in %s has empty id", source)
			}
			if r.FundingSource != source {
				return fmt.Errorf("record %s has funding source %q, listed under %q", r.ID, r.FundingSource, source)
			}
			if !r.State.Live() {
				return fmt.Errorf("record %s is %s; only live records are persisted", r.ID, r.State)
			}
			if prev, dup := seen[r.ID]; dup {
				return fmt.Errorf("record %s listed twice (%s, %s)", r.ID, prev, source)
			}
			seen[r.ID] = source
		}
	}
	return nil
}
