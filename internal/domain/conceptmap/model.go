package conceptmap

import (
	"fmt"
	"strings"
)

// Equivalence grades how a target concept relates to its source, using the
// FHIR R4 ConceptMapEquivalence codes.
type Equivalence string

const (
	EquivalenceEqual       Equivalence = "equal"
	EquivalenceEquivalent  Equivalence = "equivalent"
	EquivalenceWider       Equivalence = "wider"
	EquivalenceSubsumes    Equivalence = "subsumes"
	EquivalenceNarrower    Equivalence = "narrower"
	EquivalenceSpecializes Equivalence = "specializes"
	EquivalenceRelatedTo   Equivalence = "relatedto"
	EquivalenceInexact     Equivalence = "inexact"
	EquivalenceUnmatched   Equivalence = "unmatched"
	EquivalenceDisjoint    Equivalence = "disjoint"
)

// strength orders grades, strongest first.
var strength = map[Equivalence]int{
	EquivalenceEqual:       0,
	EquivalenceEquivalent:  1,
	EquivalenceWider:       2,
	EquivalenceSubsumes:    3,
	EquivalenceNarrower:    4,
	EquivalenceSpecializes: 5,
	EquivalenceRelatedTo:   6,
	EquivalenceInexact:     7,
	EquivalenceUnmatched:   8,
	EquivalenceDisjoint:    9,
}

// ParseEquivalence accepts an equivalence code case-insensitively. The R5
// spelling "related-to" is folded onto relatedto.
func ParseEquivalence(s string) (Equivalence, error) {
	e := Equivalence(strings.ToLower(strings.TrimSpace(s)))
	if e == "related-to" {
		e = EquivalenceRelatedTo
	}
	if !e.Valid() {
		return "", fmt.Errorf("unknown equivalence %q", s)
	}
	return e, nil
}

func (e Equivalence) Valid() bool {
	_, ok := strength[e]
	return ok
}

// Rank is the position of e in strength order; lower is stronger.
func (e Equivalence) Rank() int {
	if r, ok := strength[e]; ok {
		return r
	}
	return len(strength)
}

// Invert returns the grade seen from the target side of a mapping.
func (e Equivalence) Invert() Equivalence {
	switch e {
	case EquivalenceWider:
		return EquivalenceNarrower
	case EquivalenceNarrower:
		return EquivalenceWider
	case EquivalenceSubsumes:
		return EquivalenceSpecializes
	case EquivalenceSpecializes:
		return EquivalenceSubsumes
	}
	return e
}

func (e Equivalence) broader() bool {
	return e == EquivalenceWider || e == EquivalenceSubsumes
}

func (e Equivalence) narrower() bool {
	return e == EquivalenceNarrower || e == EquivalenceSpecializes
}

func (e Equivalence) negative() bool {
	return e == EquivalenceUnmatched || e == EquivalenceDisjoint
}

// Combine grades a two-hop mapping A->B->C from its hops.
func Combine(first, second Equivalence) Equivalence {
	weaker := first
	if second.Rank() > first.Rank() {
		weaker = second
	}
	switch {
	case first.negative() || second.negative():
		return weaker
	case (first.broader() && second.narrower()) || (first.narrower() && second.broader()):
		return EquivalenceInexact
	}
	return weaker
}

// MappingEntry relates one source concept to one target concept.
type MappingEntry struct {
	SourceSystem string      `json:"source_system"`
	SourceCode   string      `json:"source_code"`
	TargetSystem string      `json:"target_system"`
	TargetCode   string      `json:"target_code"`
	Equivalence  Equivalence `json:"equivalence"`
	Confidence   *float64    `json:"confidence,omitempty"`
	Comment      string      `json:"comment,omitempty"`
}

// ConceptMap is a named collection of mapping entries between two systems.
type ConceptMap struct {
	ID           string         `json:"id"`
	URL          string         `json:"url"`
	Name         string         `json:"name,omitempty"`
	Version      string         `json:"version,omitempty"`
	SourceSystem string         `json:"source_system"`
	TargetSystem string         `json:"target_system"`
	Entries      []MappingEntry `json:"entries"`
}

// ToFHIR renders the map without its entries, for search bundles.
func (cm *ConceptMap) ToFHIR() map[string]interface{} {
	result := map[string]interface{}{
		"resourceType": "ConceptMap",
		"id":           cm.ID,
		"url":          cm.URL,
		"status":       "active",
	}
	if cm.Name != "" {
		result["name"] = cm.Name
	}
	if cm.Version != "" {
		result["version"] = cm.Version
	}
	if cm.SourceSystem != "" {
		result["sourceUri"] = cm.SourceSystem
	}
	if cm.TargetSystem != "" {
		result["targetUri"] = cm.TargetSystem
	}
	return result
}

// TranslateRequest asks for the equivalents of one concept. ConceptMap may
// be a map id or canonical URL; empty searches every map.
type TranslateRequest struct {
	System       string
	Code         string
	ConceptMap   string
	TargetSystem string
	Reverse      bool
}

// Via identifies the intermediate concept of a two-hop match.
type Via struct {
	System  string `json:"system"`
	Code    string `json:"code"`
	Display string `json:"display,omitempty"`
	Source  string `json:"source"`
}

// Match is one translation candidate.
type Match struct {
	TargetSystem  string      `json:"target_system"`
	TargetCode    string      `json:"target_code"`
	TargetDisplay string      `json:"target_display"`
	Equivalence   Equivalence `json:"equivalence"`
	Confidence    *float64    `json:"confidence,omitempty"`
	Comment       string      `json:"comment,omitempty"`
	Source        string      `json:"source"`
	Via           *Via        `json:"via,omitempty"`
}

// Translation is the result of a translate call. Result false with no
// matches is a normal outcome, not an error.
type Translation struct {
	Result  bool    `json:"result"`
	Message string  `json:"message,omitempty"`
	Matches []Match `json:"matches"`
}

// Stats summarizes the loaded mappings.
type Stats struct {
	Total             int                 `json:"total"`
	Maps              int                 `json:"maps"`
	ByEquivalence     map[Equivalence]int `json:"by_equivalence"`
	ByConceptMap      map[string]int      `json:"by_concept_map"`
	ByTargetSystem    map[string]int      `json:"by_target_system"`
	Scored            int                 `json:"scored"`
	Unscored          int                 `json:"unscored"`
	AverageConfidence *float64            `json:"average_confidence,omitempty"`
}
