package codesystem

import (
	"strconv"
	"strings"
)

// PropertyType selects the FHIR value[x] slot a property renders into.
type PropertyType string

const (
	PropertyString  PropertyType = "string"
	PropertyCode    PropertyType = "code"
	PropertyBoolean PropertyType = "boolean"
	PropertyInteger PropertyType = "integer"
	PropertyDecimal PropertyType = "decimal"
)

// Property is one name/value pair of a concept. Names may repeat.
type Property struct {
	Name  string       `json:"name"`
	Type  PropertyType `json:"type,omitempty"`
	Value string       `json:"value"`
}

// FHIRValue returns the value[x] key and typed value for rendering. Values
// that do not parse as their declared type fall back to valueString.
func (p Property) FHIRValue() (string, interface{}) {
	switch p.Type {
	case PropertyCode:
		return "valueCode", p.Value
	case PropertyBoolean:
		if b, err := strconv.ParseBool(p.Value); err == nil {
			return "valueBoolean", b
		}
	case PropertyInteger:
		if n, err := strconv.Atoi(p.Value); err == nil {
			return "valueInteger", n
		}
	case PropertyDecimal:
		if f, err := strconv.ParseFloat(p.Value, 64); err == nil {
			return "valueDecimal", f
		}
	}
	return "valueString", p.Value
}

// Concept status values carried over from the source terminologies.
const (
	StatusActive     = "active"
	StatusInactive   = "inactive"
	StatusDeprecated = "deprecated"
)

// Concept is a single code and its meaning within one coding system.
type Concept struct {
	System      string     `json:"system"`
	Version     string     `json:"version,omitempty"`
	Code        string     `json:"code"`
	Display     string     `json:"display"`
	Definition  string     `json:"definition,omitempty"`
	Status      string     `json:"status,omitempty"`
	Properties  []Property `json:"properties"`
	ParentCodes []string   `json:"parent_codes,omitempty"`
}

// Active reports whether the concept may appear in active-only expansions.
func (c *Concept) Active() bool {
	return c.Status == "" || c.Status == StatusActive
}

// PropertiesNamed returns the properties whose name is in names, preserving
// order. An empty names list returns every property. The result is never nil.
func (c *Concept) PropertiesNamed(names []string) []Property {
	out := make([]Property, 0, len(c.Properties))
	if len(names) == 0 {
		return append(out, c.Properties...)
	}
	for _, p := range c.Properties {
		for _, n := range names {
			if p.Name == n {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// CodingSystem is a named, versioned vocabulary.
type CodingSystem struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Name      string `json:"name"`
	Title     string `json:"title,omitempty"`
	Version   string `json:"version,omitempty"`
	Publisher string `json:"publisher,omitempty"`
}

// Canonical returns the url|version reference of this system version.
func (cs *CodingSystem) Canonical() string {
	return canonicalKey(cs.URL, cs.Version)
}

func (cs *CodingSystem) ToFHIR(count int) map[string]interface{} {
	result := map[string]interface{}{
		"resourceType": "CodeSystem",
		"id":           cs.ID,
		"url":          cs.URL,
		"status":       "active",
		"content":      "complete",
		"count":        count,
	}
	if cs.Name != "" {
		result["name"] = cs.Name
	}
	if cs.Title != "" {
		result["title"] = cs.Title
	}
	if cs.Version != "" {
		result["version"] = cs.Version
	}
	if cs.Publisher != "" {
		result["publisher"] = cs.Publisher
	}
	return result
}

// Validation is the outcome of a validate-code check. It is never an error.
type Validation struct {
	Valid   bool
	Concept *Concept
	Message string
}

// Page is a window over a deterministic search ordering.
type Page struct {
	Concepts []*Concept
	Total    int
}

func canonicalKey(url, version string) string {
	return url + "|" + version
}

// splitCanonical splits "url|version" into its parts.
func splitCanonical(ref string) (url, version string, versioned bool) {
	if i := strings.LastIndex(ref, "|"); i >= 0 {
		return ref[:i], ref[i+1:], true
	}
	return ref, "", false
}
