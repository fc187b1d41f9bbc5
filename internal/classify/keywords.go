package classify

import "strings"

// Category is a canonical publication venue type.
type Category string

// Venue categories in priority order: conference beats journal beats book.
const (
	CategoryNone       Category = ""
	CategoryConference Category = "conference"
	CategoryJournal    Category = "journal"
	CategoryBook       Category = "book"
)

// priority is the tie-break order used by every pass.
var priority = [...]Category{CategoryConference, CategoryJournal, CategoryBook}

// The three sets are disjoint; no keyword is a substring of a keyword in another set.
var keywords = map[Category][]string{
	CategoryConference: {"conference", "proceedings"},
	CategoryJournal:    {"journal", "transactions", "letters", "magazine"},
	CategoryBook:       {"book", "chapter", "encyclopedia", "monograph"},
}

// Keywords returns a copy of the keyword set for a category.
func Keywords(c Category) []string {
	return append([]string(nil), keywords[c]...)
}

// matches reports whether value contains any keyword of the category, ignoring case.
func matches(value string, c Category) bool {
	if value == "" {
		return false
	}
	lower := strings.ToLower(value)
	for _, kw := range keywords[c] {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// firstMatch returns the highest-priority category the value matches.
func firstMatch(value string) (Category, bool) {
	for _, c := range priority {
		if matches(value, c) {
			return c, true
		}
	}
	return CategoryNone, false
}
