package plot

import "reflect"

// Summary counts object-level differences between two snapshots.
// "Added" and "Removed" are relative to the first argument of Diff:
// an object present in b but not a counts as added.
type Summary struct {
	Added    int `json:"added"`
	Removed  int `json:"removed"`
	Modified int `json:"modified"`
}

// Empty reports whether the summary records no differences.
func (s Summary) Empty() bool {
	return s.Added == 0 && s.Removed == 0 && s.Modified == 0
}

// Total returns the total number of differing objects.
func (s Summary) Total() int {
	return s.Added + s.Removed + s.Modified
}

// Diff compares two snapshots object by object across every collection.
// Objects are matched by id; an object present on both sides with any
// differing field counts as modified. Venue changes count as one
// modification. Nil projects are treated as empty.
func Diff(a, b *Project) Summary {
	var sum Summary

	if a == nil {
		a = &Project{}
	}

	if b == nil {
		b = &Project{}
	}

	for _, kind := range Kinds() {
		diffKind(a, b, kind, &sum)
	}

	if !reflect.DeepEqual(a.Venue, b.Venue) {
		sum.Modified++
	}

	return sum
}

// diffKind accumulates differences for one collection into sum.
func diffKind(a, b *Project, kind Kind, sum *Summary) {
	for _, obj := range a.Objects(kind) {
		other := b.Get(kind, obj.ObjectID())
		if other == nil {
			sum.Removed++

			continue
		}

		if !reflect.DeepEqual(obj, other) {
			sum.Modified++
		}
	}

	for _, obj := range b.Objects(kind) {
		if a.Get(kind, obj.ObjectID()) == nil {
			sum.Added++
		}
	}
}
