package utxo

import "sort"

// Diff is the delta between the previously known UTXO set and a freshly
// fetched one.
type Diff struct {
	// Added holds fetched outputs absent from the previous set, plus
	// previously opaque entries that have since been unblinded. Applying
	// an added output overwrites any existing entry for the same
	// outpoint, so an upgrade never duplicates.
	Added []*Output

	// RemovedOutPoints holds the outpoints of previous entries absent
	// from the fresh set, interpreted as spent.
	RemovedOutPoints []OutPoint

	// Unchanged is true when the fresh set carries no new information.
	// Callers use it to skip persistence under no-op polling.
	Unchanged bool
}

// Reconcile computes the delta between prev and a freshly fetched batch of
// outputs. The fresh batch may arrive unordered and may contain duplicate
// outpoints; duplicates collapse to a single entry, preferring a revealed
// copy over an opaque one.
//
// Membership is independent of unblinding success: a fresh output that
// failed to unblind is still added as an opaque entry.
func Reconcile(prev Set, fresh []*Output) *Diff {
	freshByKey := make(map[string]*Output, len(fresh))
	order := make([]string, 0, len(fresh))
	for _, out := range fresh {
		key := out.OutPoint.Key()
		existing, ok := freshByKey[key]
		if !ok {
			freshByKey[key] = out
			order = append(order, key)
			continue
		}
		if existing.IsOpaque() && out.IsRevealed() {
			freshByKey[key] = out
		}
	}

	diff := &Diff{}

	// Previous outpoints missing from the fresh batch have been spent.
	for key, out := range prev {
		if _, ok := freshByKey[key]; !ok {
			diff.RemovedOutPoints = append(diff.RemovedOutPoints,
				out.OutPoint)
		}
	}
	sort.Slice(diff.RemovedOutPoints, func(i, j int) bool {
		return diff.RemovedOutPoints[i].Key() <
			diff.RemovedOutPoints[j].Key()
	})

	// New outpoints, plus opaque entries upgraded to revealed.
	for _, key := range order {
		out := freshByKey[key]
		prevOut, ok := prev[key]
		switch {
		case !ok:
			diff.Added = append(diff.Added, out)

		case prevOut.IsOpaque() && out.IsRevealed():
			diff.Added = append(diff.Added, out)
		}
	}

	diff.Unchanged = len(diff.Added) == 0 && len(diff.RemovedOutPoints) == 0

	return diff
}

// Apply folds the diff into the given set: removals first, then additions.
// Applying the same diff twice is idempotent.
func (d *Diff) Apply(s Set) {
	for _, op := range d.RemovedOutPoints {
		s.Remove(op)
	}
	for _, out := range d.Added {
		s.Add(out)
	}
}
