// Package merge deduplicates normalized records across the sources of one
// query.
//
// Records are duplicates when their client names share a normalize.Key and
// their client registration numbers do not disagree. Each group collapses
// to one record: the highest-confidence member supplies the authoritative
// fields, gaps are filled from the others, and conflicting values are kept
// in the record's Alternate* fields so no source's evidence is lost.
package merge

import (
	"slices"
	"sort"

	"github.com/sells-group/lobbyharvest/internal/model"
	"github.com/sells-group/lobbyharvest/internal/normalize"
)

// Merger merges records with a fixed source precedence.
type Merger struct {
	rank map[string]int
}

// New returns a Merger ranking sources in the given order. Sources missing
// from order rank after all listed ones, in order of first appearance.
func New(order []string) *Merger {
	m := &Merger{rank: make(map[string]int, len(order))}
	for _, id := range order {
		if _, ok := m.rank[id]; !ok {
			m.rank[id] = len(m.rank)
		}
	}
	return m
}

// Records is New(order).Merge(records).
func Records(records []model.Record, order []string) []model.Record {
	return New(order).Merge(records)
}

type group struct {
	key     string
	reg     string // client registration number adopted by the group
	members []int  // indexes into the input, in input order
}

// Merge groups duplicates and returns one record per group, ordered by the
// best-ranked contributing source and then by client name. The input is not
// modified.
func (m *Merger) Merge(records []model.Record) []model.Record {
	rank := m.rankFor(records)

	var groups []*group
	byKey := make(map[string][]*group)
	for i, r := range records {
		k := normalize.Key(r.ClientName)
		g := pickGroup(byKey[k], r.ClientRegistrationNumber)
		if g == nil {
			g = &group{key: k}
			byKey[k] = append(byKey[k], g)
			groups = append(groups, g)
		}
		if g.reg == "" {
			g.reg = r.ClientRegistrationNumber
		}
		g.members = append(g.members, i)
	}

	type merged struct {
		rec   model.Record
		first int
	}
	out := make([]merged, len(groups))
	for i, g := range groups {
		rec := mergeGroup(records, g.members, rank)
		out[i] = merged{rec: rec, first: bestRank(rec.SourceIDs, rank)}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.first != b.first {
			return a.first < b.first
		}
		ka, kb := normalize.Key(a.rec.ClientName), normalize.Key(b.rec.ClientName)
		if ka != kb {
			return ka < kb
		}
		if a.rec.ClientName != b.rec.ClientName {
			return a.rec.ClientName < b.rec.ClientName
		}
		return a.rec.ClientRegistrationNumber < b.rec.ClientRegistrationNumber
	})

	result := make([]model.Record, len(out))
	for i, o := range out {
		result[i] = o.rec
	}
	return result
}

// rankFor extends the configured ranking with sources first seen in records.
func (m *Merger) rankFor(records []model.Record) map[string]int {
	rank := make(map[string]int, len(m.rank))
	for id, r := range m.rank {
		rank[id] = r
	}
	for _, r := range records {
		for _, id := range r.SourceIDs {
			if _, ok := rank[id]; !ok {
				rank[id] = len(rank)
			}
		}
	}
	return rank
}

// pickGroup returns the group a record with registration number reg joins:
// one with the same number first, else the first one without a conflicting
// number. Differing numbers mean different legal entities.
func pickGroup(candidates []*group, reg string) *group {
	if reg != "" {
		for _, g := range candidates {
			if g.reg == reg {
				return g
			}
		}
	}
	for _, g := range candidates {
		if g.reg == "" || reg == "" {
			return g
		}
	}
	return nil
}

func bestRank(ids []string, rank map[string]int) int {
	best := len(rank)
	for _, id := range ids {
		if r, ok := rank[id]; ok && r < best {
			best = r
		}
	}
	return best
}

func mergeGroup(records []model.Record, members []int, rank map[string]int) model.Record {
	if len(members) == 1 {
		return records[members[0]].Clone()
	}

	// Authority order: confidence, then source rank, then input order.
	ordered := slices.Clone(members)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := records[ordered[i]], records[ordered[j]]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return bestRank(a.SourceIDs, rank) < bestRank(b.SourceIDs, rank)
	})

	out := records[ordered[0]].Clone()
	for _, idx := range ordered[1:] {
		absorb(&out, records[idx])
	}

	sort.SliceStable(out.SourceIDs, func(i, j int) bool {
		return rank[out.SourceIDs[i]] < rank[out.SourceIDs[j]]
	})
	if out.ClientStartDate != nil && out.ClientEndDate != nil &&
		out.ClientStartDate.After(*out.ClientEndDate) && !out.HasFlag(model.FlagStartAfterEnd) {
		out.Flags = append(out.Flags, model.FlagStartAfterEnd)
	}
	return out
}

// absorb folds a lower-authority duplicate into out: null gaps are filled,
// differing values become alternates, provenance and flags are unioned.
func absorb(out *model.Record, r model.Record) {
	if out.FirmName == "" {
		out.FirmName = r.FirmName
	}

	if r.ClientName != out.ClientName {
		out.AlternateClientNames = addString(out.AlternateClientNames, out.ClientName, r.ClientName)
	}
	for _, n := range r.AlternateClientNames {
		out.AlternateClientNames = addString(out.AlternateClientNames, out.ClientName, n)
	}

	if out.ClientRegistrationNumber == "" {
		out.ClientRegistrationNumber = r.ClientRegistrationNumber
	}

	switch {
	case out.FirmRegistrationNumber == "":
		out.FirmRegistrationNumber = r.FirmRegistrationNumber
	case r.FirmRegistrationNumber != "":
		out.AlternateFirmRegistrationNumbers = addString(out.AlternateFirmRegistrationNumbers, out.FirmRegistrationNumber, r.FirmRegistrationNumber)
	}
	for _, n := range r.AlternateFirmRegistrationNumbers {
		out.AlternateFirmRegistrationNumbers = addString(out.AlternateFirmRegistrationNumbers, out.FirmRegistrationNumber, n)
	}

	out.ClientStartDate, out.AlternateStartDates = mergeDate(out.ClientStartDate, out.AlternateStartDates, r.ClientStartDate, r.AlternateStartDates)
	out.ClientEndDate, out.AlternateEndDates = mergeDate(out.ClientEndDate, out.AlternateEndDates, r.ClientEndDate, r.AlternateEndDates)

	for _, id := range r.SourceIDs {
		if !slices.Contains(out.SourceIDs, id) {
			out.SourceIDs = append(out.SourceIDs, id)
		}
	}
	for _, f := range r.Flags {
		if !out.HasFlag(f) {
			out.Flags = append(out.Flags, f)
		}
	}
}

// mergeDate fills a missing primary date from other, and records any date
// that differs from the primary as an alternate.
func mergeDate(primary *model.Date, alts []model.Date, other *model.Date, otherAlts []model.Date) (*model.Date, []model.Date) {
	if primary == nil && other != nil {
		d := *other
		primary = &d
	} else if other != nil {
		alts = addDate(alts, *primary, *other)
	}
	for _, d := range otherAlts {
		if primary == nil {
			c := d
			primary = &c
			continue
		}
		alts = addDate(alts, *primary, d)
	}
	return primary, alts
}

func addString(list []string, primary, v string) []string {
	if v == "" || v == primary || slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}

func addDate(list []model.Date, primary, d model.Date) []model.Date {
	if d.Equal(primary) || slices.Contains(list, d) {
		return list
	}
	return append(list, d)
}
