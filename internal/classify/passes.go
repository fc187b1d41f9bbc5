package classify

// slot indexes the mutable venue fields of a record.
type slot int

const (
	slotSource slot = iota
	slotJournal
	slotConference
	slotBook
	numSlots
)

var slotFields = [numSlots]string{
	slotSource:     FieldSource,
	slotJournal:    FieldJournal,
	slotConference: FieldConference,
	slotBook:       FieldBook,
}

func categorySlot(c Category) slot {
	switch c {
	case CategoryConference:
		return slotConference
	case CategoryJournal:
		return slotJournal
	default:
		return slotBook
	}
}

// titleCandidates lists, per category, the fields the title pass may pull from.
var titleCandidates = map[Category][]slot{
	CategoryConference: {slotBook, slotJournal, slotSource},
	CategoryJournal:    {slotBook, slotConference, slotSource},
	CategoryBook:       {slotJournal, slotConference, slotSource},
}

// venue is the immutable working value threaded through the passes. Arrays copy on
// assignment, so every pass receives and returns an independent value.
type venue struct {
	title    string
	volume   string
	issue    string
	patent   string
	slots    [numSlots]string
	claimed  [numSlots]bool
	isPatent bool
}

func newVenue(r RawRecord) venue {
	v := venue{
		title:  r.Get(FieldTitle),
		volume: r.Get(FieldVolume),
		issue:  r.Get(FieldIssue),
		patent: r.Get(FieldPatentNumber),
	}
	for s := range numSlots {
		v.slots[s] = r.Get(slotFields[s])
	}
	return v
}

// migrate moves from into to and clears from. An occupied target keeps its value.
func (v venue) migrate(from, to slot) venue {
	if from == to || v.slots[from] == "" {
		return v
	}
	if v.slots[to] == "" {
		v.slots[to] = v.slots[from]
	}
	v.slots[from] = ""
	return v
}

func (v venue) matches(s slot, c Category) bool {
	return matches(v.slots[s], c)
}

// anyConference reports whether the title, source or any venue field names a conference.
func (v venue) anyConference() bool {
	if matches(v.title, CategoryConference) {
		return true
	}
	for s := range numSlots {
		if v.matches(s, CategoryConference) {
			return true
		}
	}
	return false
}

// pass is one named step of the pipeline.
type pass struct {
	name string
	fn   func(venue) venue
}

// pipeline is the documented tie-break policy: title evidence, then field cross-checks,
// then structural evidence, then the residual default.
var pipeline = []pass{
	{"title", titlePass},
	{"field_cross", fieldCrossPass},
	{"structural", structuralPass},
	{"residual", residualPass},
	{"patent", patentPass},
	{"resolve", resolvePass},
}

// titlePass uses keywords in the title as evidence for the venue type.
func titlePass(v venue) venue {
	for _, c := range priority {
		if !matches(v.title, c) {
			continue
		}
		target := categorySlot(c)
		for _, s := range titleCandidates[c] {
			if v.claimed[s] || !v.matches(s, c) {
				continue
			}
			v = v.migrate(s, target)
			v.claimed[s] = true
			v.claimed[target] = true
		}
	}
	return v
}

// fieldCrossPass checks each field against the keyword sets independently of the title.
func fieldCrossPass(v venue) venue {
	if c, ok := firstMatch(v.slots[slotSource]); ok {
		v = v.migrate(slotSource, categorySlot(c))
	}
	if v.matches(slotJournal, CategoryConference) {
		v = v.migrate(slotJournal, slotConference)
	}
	if v.matches(slotConference, CategoryJournal) {
		v = v.migrate(slotConference, slotJournal)
	}
	if v.matches(slotBook, CategoryJournal) {
		v = v.migrate(slotBook, slotJournal)
	}
	if v.matches(slotBook, CategoryConference) {
		v = v.migrate(slotBook, slotConference)
	}
	return v
}

// structuralPass treats volume/issue numbering as journal evidence when nothing names a conference.
func structuralPass(v venue) venue {
	if v.anyConference() || (v.volume == "" && v.issue == "") {
		return v
	}
	for _, s := range []slot{slotSource, slotConference, slotBook} {
		v = v.migrate(s, slotJournal)
	}
	return v
}

// residualPass defaults any uncategorised source to a journal.
func residualPass(v venue) venue {
	return v.migrate(slotSource, slotJournal)
}

// patentPass is orthogonal to the venue fields.
func patentPass(v venue) venue {
	v.isPatent = v.patent != ""
	return v
}

// resolvePass keeps the highest-priority venue when more than one survived.
func resolvePass(v venue) venue {
	kept := false
	for _, c := range priority {
		s := categorySlot(c)
		if v.slots[s] == "" {
			continue
		}
		if kept {
			v.slots[s] = ""
			continue
		}
		kept = true
	}
	v.slots[slotSource] = ""
	return v
}

func runPipeline(v venue) venue {
	for _, p := range pipeline {
		v = p.fn(v)
	}
	return v
}
