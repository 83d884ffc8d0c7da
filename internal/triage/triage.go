// Package triage classifies raw defect records into triage categories.
// Classification is pure: no I/O, no side effects, deterministic for a
// given input.
package triage

import "strings"

// Category is the triage category assigned to a defect
type Category string

const (
	CategoryUntriaged Category = "untriaged"
	CategoryTest      Category = "test-bug"
	CategoryProduct   Category = "product-bug"
	CategoryInfra     Category = "infra-bug"
)

// Placeholder values used when upstream records omit fields. The engine
// never fails on malformed records, it fills the gaps.
const (
	PlaceholderID      = "N/A"
	PlaceholderSummary = "N/A"
	PlaceholderState   = "Open"
	PlaceholderOwner   = "Unassigned"
)

// RawDefect is a defect record as normalized by a fetch adapter, before
// classification. Any field may be empty.
type RawDefect struct {
	ID        string
	Summary   string
	Tags      []string
	State     string
	Owner     string
	Component string
}

// Defect is a classified defect record
type Defect struct {
	ID        string
	Summary   string
	Tags      []string
	State     string
	Owner     string
	Component string
	Category  Category
}

// categoryKeywords maps each category to its tag vocabulary. The *_bug
// forms match as substrings, the bare forms match exactly. Order is the
// fixed priority order: a defect tagged for several categories lands in
// the first one. This ordering is a deliberate contract, kept for
// reproducibility of historical snapshots.
var categoryKeywords = []struct {
	category  Category
	substring string
	exact     string
}{
	{CategoryTest, "test_bug", "test"},
	{CategoryProduct, "product_bug", "product"},
	{CategoryInfra, "infrastructure_bug", "infrastructure"},
}

// Classify assigns a triage category to each raw record. Records with
// missing identity fields get placeholder values; records with an empty
// component get fallbackComponent.
func Classify(defects []RawDefect, fallbackComponent string) []Defect {
	classified := make([]Defect, 0, len(defects))
	for _, raw := range defects {
		classified = append(classified, classifyOne(raw, fallbackComponent))
	}
	return classified
}

func classifyOne(raw RawDefect, fallbackComponent string) Defect {
	d := Defect{
		ID:        raw.ID,
		Summary:   raw.Summary,
		Tags:      raw.Tags,
		State:     raw.State,
		Owner:     raw.Owner,
		Component: raw.Component,
		Category:  Categorize(raw.Tags),
	}
	if d.ID == "" {
		d.ID = PlaceholderID
	}
	if d.Summary == "" {
		d.Summary = PlaceholderSummary
	}
	if d.State == "" {
		d.State = PlaceholderState
	}
	if d.Owner == "" {
		d.Owner = PlaceholderOwner
	}
	if d.Component == "" {
		d.Component = fallbackComponent
	}
	if d.Tags == nil {
		d.Tags = []string{}
	}
	return d
}

// Categorize maps a tag list to a triage category. A defect with no
// recognized tag is untriaged; otherwise it goes to the first category in
// priority order (test, product, infra) any of its tags matches.
func Categorize(tags []string) Category {
	for _, kw := range categoryKeywords {
		for _, tag := range tags {
			lower := strings.ToLower(tag)
			if strings.Contains(lower, kw.substring) || lower == kw.exact {
				return kw.category
			}
		}
	}
	return CategoryUntriaged
}

// Untriaged filters a classified list down to untriaged defects,
// preserving order.
func Untriaged(defects []Defect) []Defect {
	var out []Defect
	for _, d := range defects {
		if d.Category == CategoryUntriaged {
			out = append(out, d)
		}
	}
	return out
}

// ComponentDefects groups one component's untriaged defects for reporting
type ComponentDefects struct {
	Component string
	Defects   []Defect
}

// Aggregate is a complete daily tally of defects by triage category with a
// per-component untriaged breakdown. Snapshot writes take a full
// Aggregate, never a delta.
type Aggregate struct {
	Total       int              `json:"total"`
	Untriaged   int              `json:"untriaged"`
	TestBugs    int              `json:"testBugs"`
	ProductBugs int              `json:"productBugs"`
	InfraBugs   int              `json:"infraBugs"`
	Components  []ComponentCount `json:"components"`
}

// ComponentCount is one component's untriaged defect count
type ComponentCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Aggregate tallies classified defects into a daily aggregate. The
// per-component breakdown counts untriaged defects only, matching what the
// grouped report shows.
func AggregateDefects(byComponent map[string][]Defect, order []string) Aggregate {
	var agg Aggregate
	for _, name := range order {
		defects := byComponent[name]
		untriagedHere := 0
		for _, d := range defects {
			agg.Total++
			switch d.Category {
			case CategoryTest:
				agg.TestBugs++
			case CategoryProduct:
				agg.ProductBugs++
			case CategoryInfra:
				agg.InfraBugs++
			default:
				agg.Untriaged++
				untriagedHere++
			}
		}
		if untriagedHere > 0 {
			agg.Components = append(agg.Components, ComponentCount{Name: name, Count: untriagedHere})
		}
	}
	return agg
}
