package leadadmin

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sampleLeads() []LeadRecord {
	return []LeadRecord{
		{ID: "1", Name: "Chen", TransactionType: TransactionSell, City: "Taipei", District: "Xinyi", Property: "3BR apartment"},
		{ID: "2", Name: "Lin", TransactionType: TransactionBuy, City: "Taichung", District: "Xitun", Property: "Townhouse near park"},
		{ID: "3", Name: "Wang", TransactionType: TransactionBuy, City: "Taipei", District: "Da'an", Property: "Studio"},
		{ID: "4", Name: "Huang", TransactionType: TransactionSell, City: "Kaohsiung", District: "Lingya", Property: "Office floor"},
	}
}

func ids(leads []LeadRecord) []string {
	out := make([]string, len(leads))
	for i, l := range leads {
		out[i] = l.ID
	}
	return out
}

func TestFilterApply(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"empty matches all", Filter{}, []string{"1", "2", "3", "4"}},
		{"all type", Filter{Type: FilterAll}, []string{"1", "2", "3", "4"}},
		{"by name case insensitive", Filter{Term: "cHEN"}, []string{"1"}},
		{"by city", Filter{Term: "taipei"}, []string{"1", "3"}},
		{"by district", Filter{Term: "lingya"}, []string{"4"}},
		{"by property", Filter{Term: "PARK"}, []string{"2"}},
		{"type only", Filter{Type: "Buy"}, []string{"2", "3"}},
		{"term and type", Filter{Term: "taipei", Type: "Sell"}, []string{"1"}},
		{"no match", Filter{Term: "villa"}, []string{}},
		{"unknown type", Filter{Type: "Rent"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(tt.filter.Apply(sampleLeads())))
		})
	}
}

// Apply must agree with a direct evaluation of the predicate for every
// combination of terms and types, and must give the same answer twice.
func TestFilterApplyMatchesDefinition(t *testing.T) {
	leads := sampleLeads()
	terms := []string{"", "a", "TAI", "xinyi", "apartment", "n", "zzz", "'"}
	types := []string{FilterAll, "Sell", "Buy"}

	for _, term := range terms {
		for _, typ := range types {
			f := Filter{Term: term, Type: typ}

			var want []string
			for _, l := range leads {
				hay := strings.ToLower(l.Name + "\x00" + l.Property + "\x00" + l.City + "\x00" + l.District)
				okTerm := strings.Contains(hay, strings.ToLower(term))
				okType := typ == FilterAll || string(l.TransactionType) == typ
				if okTerm && okType {
					want = append(want, l.ID)
				}
			}
			if want == nil {
				want = []string{}
			}

			first := ids(f.Apply(leads))
			assert.Equal(t, want, first, "term=%q type=%q", term, typ)
			assert.Equal(t, first, ids(f.Apply(leads)))
		}
	}
}

func TestFilterApplyDoesNotModifyInput(t *testing.T) {
	leads := sampleLeads()
	before := ids(leads)

	Filter{Term: "taipei", Type: "Buy"}.Apply(leads)

	assert.Equal(t, before, ids(leads))
}
