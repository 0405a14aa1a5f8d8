package ingest

import "strings"

// FieldMap pairs remote-API field paths with their destination column names,
// index for index.
type FieldMap struct {
	Source []string // dotted paths into the raw record
	Dest   []string // destination column names, same order
}

// ActionMap declares which fields form the natural key used for insert
// deduplication and which fields participate in update detection. It is
// read-only configuration; one literal per entity kind.
type ActionMap struct {
	Insert FieldMap
	Update FieldMap
}

// HasUpdates reports whether the map carries update-detection fields at all.
func (am ActionMap) HasUpdates() bool {
	return len(am.Update.Source) > 0
}

// Partition splits a batch of raw records into the three reconciliation
// outcomes. The three slices are disjoint and together cover every surviving
// record of the batch (an earlier duplicate of a natural key does not
// survive; the later occurrence supersedes it).
type Partition struct {
	Insert    []Record
	Update    []Record
	Unchanged []Record
}

// All returns the surviving records in their original fetch order.
func (p Partition) All() []Record {
	all := make([]Record, 0, len(p.Insert)+len(p.Update)+len(p.Unchanged))
	all = append(all, p.Insert...)
	all = append(all, p.Update...)
	all = append(all, p.Unchanged...)
	return all
}

func naturalKeyOf(values []string) string {
	return strings.Join(values, "\x1f")
}

// sourceKey computes the natural key of a raw record from the action map's
// insert source paths. An absent field participates as null.
func sourceKey(r Record, fm FieldMap) string {
	parts := make([]string, len(fm.Source))
	for i, path := range fm.Source {
		v, ok := r.Path(path)
		if !ok {
			v = nil
		}
		parts[i] = canonical(v)
	}
	return naturalKeyOf(parts)
}

// destKey computes the natural key of a persisted row projection from the
// action map's insert destination columns.
func destKey(row map[string]any, fm FieldMap) string {
	parts := make([]string, len(fm.Dest))
	for i, col := range fm.Dest {
		parts[i] = canonical(row[col])
	}
	return naturalKeyOf(parts)
}

// Organize classifies each raw record against a snapshot of persisted rows.
//
// A record whose natural key is absent from the snapshot needs insertion. A
// record whose key is present but whose update-source values differ from the
// row's update-dest values needs an update. Everything else is unchanged.
// When the same natural key occurs more than once in the incoming batch the
// later occurrence wins, mirroring the later page superseding an overlap
// from the page before it.
func Organize(records []Record, existing []map[string]any, am ActionMap) Partition {
	byKey := make(map[string]map[string]any, len(existing))
	for _, row := range existing {
		byKey[destKey(row, am.Insert)] = row
	}

	// Deduplicate incoming records on natural key, later wins, order kept.
	seen := make(map[string]int, len(records))
	survivors := make([]Record, 0, len(records))
	for _, rec := range records {
		key := sourceKey(rec, am.Insert)
		if idx, dup := seen[key]; dup {
			survivors[idx] = rec
			continue
		}
		seen[key] = len(survivors)
		survivors = append(survivors, rec)
	}

	var part Partition
	for _, rec := range survivors {
		row, exists := byKey[sourceKey(rec, am.Insert)]
		if !exists {
			part.Insert = append(part.Insert, rec)
			continue
		}
		if am.HasUpdates() && updateFieldsDiffer(rec, row, am.Update) {
			part.Update = append(part.Update, rec)
			continue
		}
		part.Unchanged = append(part.Unchanged, rec)
	}
	return part
}

func updateFieldsDiffer(rec Record, row map[string]any, fm FieldMap) bool {
	for i, path := range fm.Source {
		v, ok := rec.Path(path)
		if !ok {
			v = nil
		}
		if canonical(v) != canonical(row[fm.Dest[i]]) {
			return true
		}
	}
	return false
}
