package valueset

import (
	"time"

	"github.com/ayushbridge/bridge/internal/domain/codesystem"
)

// Include selects concepts from one system. With no Codes the whole system
// is selected; ParentCode restricts the selection to its strict descendants.
type Include struct {
	System     string   `json:"system"`
	Codes      []string `json:"codes,omitempty"`
	ParentCode string   `json:"parent_code,omitempty"`
}

// Exclude removes explicit codes of one system.
type Exclude struct {
	System string   `json:"system"`
	Codes  []string `json:"codes"`
}

// Definition is the intensional description of a ValueSet. The order of
// Include determines the order systems appear in an expansion.
type Definition struct {
	ID              string    `json:"id"`
	URL             string    `json:"url"`
	Name            string    `json:"name,omitempty"`
	Title           string    `json:"title,omitempty"`
	Version         string    `json:"version,omitempty"`
	Include         []Include `json:"include"`
	Exclude         []Exclude `json:"exclude,omitempty"`
	Filter          string    `json:"filter,omitempty"`
	ActiveOnly      bool      `json:"active_only,omitempty"`
	RankByRelevance bool      `json:"rank_by_relevance,omitempty"`
}

// Systems returns the distinct included systems in declared order.
func (d *Definition) Systems() []string {
	seen := make(map[string]bool, len(d.Include))
	var out []string
	for _, inc := range d.Include {
		if !seen[inc.System] {
			seen[inc.System] = true
			out = append(out, inc.System)
		}
	}
	return out
}

// ImplicitURLSuffix turns a CodeSystem URL into its all-concepts ValueSet.
const ImplicitURLSuffix = "?fhir_vs"

// Implicit returns the all-concepts definition of a coding system.
func Implicit(cs codesystem.CodingSystem) Definition {
	title := cs.Title
	if title == "" {
		title = cs.Name
	}
	return Definition{
		ID:      cs.ID,
		URL:     cs.URL + ImplicitURLSuffix,
		Name:    cs.Name,
		Title:   title,
		Version: cs.Version,
		Include: []Include{{System: cs.URL}},
	}
}

func (d *Definition) ToFHIR() map[string]interface{} {
	result := map[string]interface{}{
		"resourceType": "ValueSet",
		"id":           d.ID,
		"url":          d.URL,
		"status":       "active",
	}
	if d.Name != "" {
		result["name"] = d.Name
	}
	if d.Title != "" {
		result["title"] = d.Title
	}
	if d.Version != "" {
		result["version"] = d.Version
	}
	include := make([]map[string]interface{}, 0, len(d.Include))
	for _, inc := range d.Include {
		entry := map[string]interface{}{"system": inc.System}
		if len(inc.Codes) > 0 {
			concepts := make([]map[string]interface{}, len(inc.Codes))
			for i, code := range inc.Codes {
				concepts[i] = map[string]interface{}{"code": code}
			}
			entry["concept"] = concepts
		}
		if inc.ParentCode != "" {
			entry["filter"] = []map[string]interface{}{
				{"property": "concept", "op": "descendent-of", "value": inc.ParentCode},
			}
		}
		include = append(include, entry)
	}
	compose := map[string]interface{}{"include": include}
	if d.ActiveOnly {
		compose["inactive"] = false
	}
	if len(d.Exclude) > 0 {
		exclude := make([]map[string]interface{}, 0, len(d.Exclude))
		for _, ex := range d.Exclude {
			concepts := make([]map[string]interface{}, len(ex.Codes))
			for i, code := range ex.Codes {
				concepts[i] = map[string]interface{}{"code": code}
			}
			exclude = append(exclude, map[string]interface{}{"system": ex.System, "concept": concepts})
		}
		compose["exclude"] = exclude
	}
	result["compose"] = compose
	return result
}

// ExpandRequest selects one page of a ValueSet expansion.
type ExpandRequest struct {
	ValueSet          string
	Filter            string
	System            string
	Limit             int
	Offset            int
	IncludeProperties bool
	PropertyNames     []string
}

// Contains is one concept of an expansion. Properties is nil unless the
// request asked for properties, in which case it is non-nil and possibly
// empty. The JSON form keeps that distinction as null versus [].
type Contains struct {
	System     string                `json:"system"`
	Version    string                `json:"version,omitempty"`
	Code       string                `json:"code"`
	Display    string                `json:"display"`
	Inactive   bool                  `json:"inactive,omitempty"`
	Properties []codesystem.Property `json:"properties"`
}

// Expansion is one page of an evaluated ValueSet. NextOffset is nil on the
// last page.
type Expansion struct {
	Identifier      string     `json:"identifier"`
	Timestamp       time.Time  `json:"timestamp"`
	SnapshotVersion int64      `json:"snapshot_version"`
	ValueSet        string     `json:"value_set"`
	Filter          string     `json:"filter,omitempty"`
	Total           int        `json:"total"`
	Offset          int        `json:"offset"`
	Count           int        `json:"count"`
	NextOffset      *int       `json:"next_offset,omitempty"`
	Contains        []Contains `json:"contains"`
}
