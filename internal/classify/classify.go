// Package classify resolves ambiguous bibliographic venue fields into one canonical
// category (conference, journal or book) and flags patents.
//
// Classification is pure and total: it never fails and never mutates its input.
package classify

// maxRounds bounds the fixed-point iteration; in practice the pipeline settles after one
// round and the second round only confirms it.
const maxRounds = 4

// Classify returns the canonical form of r. Classify(Classify(r).Raw()) equals Classify(r).
func Classify(r RawRecord) CanonicalRecord {
	v := settle(newVenue(r))

	out := r.Clone()
	for s := range numSlots {
		field := slotFields[s]
		if v.slots[s] == "" {
			if _, present := out[field]; present {
				out[field] = ""
			}
			continue
		}
		out[field] = v.slots[s]
	}
	return CanonicalRecord{fields: out, isPatent: v.isPatent}
}

// ClassifyAll classifies records in order.
func ClassifyAll(records []RawRecord) []CanonicalRecord {
	out := make([]CanonicalRecord, len(records))
	for i, r := range records {
		out[i] = Classify(r)
	}
	return out
}

// settle reruns the pipeline on its own output until the venue fields stop moving.
func settle(v venue) venue {
	current := runPipeline(v)
	for range maxRounds - 1 {
		next := runPipeline(fresh(current))
		if next.slots == current.slots && next.isPatent == current.isPatent {
			return current
		}
		current = next
	}
	return current
}

// fresh drops per-round bookkeeping so a rerun sees the record as a new input would.
func fresh(v venue) venue {
	v.claimed = [numSlots]bool{}
	return v
}
