package classify

import (
	"encoding/json"
	"maps"
)

// Field names recognised in a RawRecord.
const (
	FieldTitle        = "title"
	FieldSource       = "source"
	FieldJournal      = "journal"
	FieldConference   = "conference"
	FieldBook         = "book"
	FieldVolume       = "volume"
	FieldIssue        = "issue"
	FieldPatentNumber = "patentNumber"
	FieldIsPatent     = "isPatent"
)

// RawRecord is an open bag of string fields as produced by the harvesting agent.
type RawRecord map[string]string

// Get returns a field value, treating a nil record as empty.
func (r RawRecord) Get(field string) string {
	if r == nil {
		return ""
	}
	return r[field]
}

// Clone returns an independent copy of the record.
func (r RawRecord) Clone() RawRecord {
	out := make(RawRecord, len(r))
	maps.Copy(out, r)
	return out
}

// CanonicalRecord is a RawRecord after classification. At most one venue field is set and
// source is always empty.
type CanonicalRecord struct {
	fields   RawRecord
	isPatent bool
}

// Raw returns a copy of the classified fields.
func (c CanonicalRecord) Raw() RawRecord {
	return c.fields.Clone()
}

// Get returns a classified field value.
func (c CanonicalRecord) Get(field string) string {
	return c.fields.Get(field)
}

// Journal returns the resolved journal venue.
func (c CanonicalRecord) Journal() string { return c.fields.Get(FieldJournal) }

// Conference returns the resolved conference venue.
func (c CanonicalRecord) Conference() string { return c.fields.Get(FieldConference) }

// Book returns the resolved book venue.
func (c CanonicalRecord) Book() string { return c.fields.Get(FieldBook) }

// Source is always empty after classification.
func (c CanonicalRecord) Source() string { return c.fields.Get(FieldSource) }

// IsPatent reports whether the record carries a patent number.
func (c CanonicalRecord) IsPatent() bool { return c.isPatent }

// Category returns the venue category the record resolved to.
func (c CanonicalRecord) Category() Category {
	switch {
	case c.Conference() != "":
		return CategoryConference
	case c.Journal() != "":
		return CategoryJournal
	case c.Book() != "":
		return CategoryBook
	default:
		return CategoryNone
	}
}

// Equal compares two canonical records field by field.
func (c CanonicalRecord) Equal(other CanonicalRecord) bool {
	return c.isPatent == other.isPatent && maps.Equal(normalize(c.fields), normalize(other.fields))
}

// MarshalJSON emits the fields plus the isPatent flag as a flat object.
func (c CanonicalRecord) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.fields)+1)
	for k, v := range c.fields {
		out[k] = v
	}
	out[FieldIsPatent] = c.isPatent
	return json.Marshal(out)
}

// normalize drops empty values so a missing key and an empty key compare equal.
func normalize(r RawRecord) RawRecord {
	out := make(RawRecord, len(r))
	for k, v := range r {
		if v != "" {
			out[k] = v
		}
	}
	return out
}
