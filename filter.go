package leadadmin

import "strings"

// FilterAll disables the transaction type constraint.
const FilterAll = "all"

// Filter narrows a fetched lead list down to what the user searched for.
type Filter struct {
	Term string
	Type string
}

// Match reports whether the lead contains the search term in its name,
// property, city or district (case-insensitively) and has the requested
// transaction type.
func (f Filter) Match(lead LeadRecord) bool {
	if f.Type != "" && f.Type != FilterAll && string(lead.TransactionType) != f.Type {
		return false
	}

	term := strings.ToLower(f.Term)
	if term == "" {
		return true
	}

	for _, field := range []string{lead.Name, lead.Property, lead.City, lead.District} {
		if strings.Contains(strings.ToLower(field), term) {
			return true
		}
	}
	return false
}

// Apply returns the matching leads in their original order. The input is
// left untouched.
func (f Filter) Apply(leads []LeadRecord) []LeadRecord {
	out := make([]LeadRecord, 0, len(leads))
	for _, lead := range leads {
		if f.Match(lead) {
			out = append(out, lead)
		}
	}
	return out
}
