package terminology

import "github.com/ayushbridge/bridge/internal/domain/conceptmap"

// LookupRequest represents a FHIR CodeSystem $lookup request.
type LookupRequest struct {
	System  string `json:"system"`
	Code    string `json:"code"`
	Version string `json:"version,omitempty"`
	// Properties limits the returned concept properties. Empty returns all.
	Properties []string `json:"property,omitempty"`
	// NoMappings suppresses the mapping properties.
	NoMappings bool `json:"-"`
}

// ValidateCodeRequest represents a FHIR CodeSystem $validate-code request.
type ValidateCodeRequest struct {
	System  string `json:"system"`
	Code    string `json:"code"`
	Version string `json:"version,omitempty"`
	Display string `json:"display,omitempty"`
}

// Mapping is one forward mapping reported by $lookup.
type Mapping struct {
	conceptmap.MappingEntry
	TargetDisplay string `json:"target_display,omitempty"`
	Source        string `json:"source"`
}

// SearchResult is one page of a free-text concept search.
type SearchResult struct {
	System   string           `json:"system"`
	Filter   string           `json:"filter"`
	Concepts []ConceptSummary `json:"concepts"`
	Total    int              `json:"total"`
}

// ConceptSummary is the compact concept view used by search.
type ConceptSummary struct {
	Code     string `json:"code"`
	Display  string `json:"display"`
	System   string `json:"system"`
	Version  string `json:"version,omitempty"`
	Inactive bool   `json:"inactive,omitempty"`
}

func systemRef(system, version string) string {
	if version == "" {
		return system
	}
	return system + "|" + version
}
