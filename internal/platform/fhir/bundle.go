package fhir

import (
	"encoding/json"
	"time"
)

// Bundle represents a FHIR Bundle resource.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	Type         string        `json:"type"`
	Total        *int          `json:"total,omitempty"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
	Timestamp    *time.Time    `json:"timestamp,omitempty"`
}

type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
	Search   *BundleSearch   `json:"search,omitempty"`
}

type BundleSearch struct {
	Mode string `json:"mode,omitempty"`
}

// NewSearchBundle creates a searchset Bundle holding one page of resources
// of one type. total counts every match, not just the page. typeURL is the
// search endpoint, e.g. http://host/fhir/CodeSystem; entries with an "id" get
// typeURL/id as fullUrl. Without links the bundle links to typeURL as self.
func NewSearchBundle(resources []map[string]interface{}, total int, typeURL string, links []BundleLink) *Bundle {
	now := time.Now().UTC()
	entries := make([]BundleEntry, len(resources))
	for i, r := range resources {
		raw, _ := json.Marshal(r)
		entry := BundleEntry{
			Resource: raw,
			Search:   &BundleSearch{Mode: "match"},
		}
		if id, ok := r["id"].(string); ok && id != "" {
			entry.FullURL = typeURL + "/" + id
		}
		entries[i] = entry
	}
	if len(links) == 0 {
		links = []BundleLink{{Relation: "self", URL: typeURL}}
	}

	return &Bundle{
		ResourceType: "Bundle",
		Type:         "searchset",
		Total:        &total,
		Timestamp:    &now,
		Link:         links,
		Entry:        entries,
	}
}
