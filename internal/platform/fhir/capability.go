package fhir

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// SearchParam describes a search parameter advertised for a resource type.
type SearchParam struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	Documentation string `json:"documentation,omitempty"`
}

// OperationCapability describes a resource-level operation.
type OperationCapability struct {
	Name          string `json:"name"`
	Definition    string `json:"definition"`
	Documentation string `json:"documentation,omitempty"`
}

// ResourceCapability is everything the server supports for one resource type.
type ResourceCapability struct {
	Type         string                `json:"type"`
	Profile      string                `json:"profile,omitempty"`
	Interactions []string              `json:"interactions"`
	SearchParams []SearchParam         `json:"searchParams,omitempty"`
	Operations   []OperationCapability `json:"operations,omitempty"`
}

// CapabilityConfig holds top-level server metadata for the CapabilityStatement.
type CapabilityConfig struct {
	ServerName    string
	ServerVersion string
	Publisher     string
	Description   string
	// BaseURL is reported as implementation.url. When empty the handler
	// derives it from the request.
	BaseURL string
}

// CapabilityBuilder accumulates resource registrations and builds the
// CapabilityStatement served at /fhir/metadata.
type CapabilityBuilder struct {
	mu        sync.RWMutex
	config    CapabilityConfig
	resources map[string]*ResourceCapability
}

func NewCapabilityBuilder(cfg CapabilityConfig) *CapabilityBuilder {
	if cfg.ServerName == "" {
		cfg.ServerName = "AyushBridge"
	}
	return &CapabilityBuilder{config: cfg, resources: make(map[string]*ResourceCapability)}
}

// AddResource registers a resource type. Registering the same type again
// merges interactions, search parameters and operations.
func (b *CapabilityBuilder) AddResource(rc ResourceCapability) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.resources[rc.Type]
	if !ok {
		entry = &ResourceCapability{Type: rc.Type}
		b.resources[rc.Type] = entry
	}
	if rc.Profile != "" {
		entry.Profile = rc.Profile
	}
	for _, code := range rc.Interactions {
		if !containsString(entry.Interactions, code) {
			entry.Interactions = append(entry.Interactions, code)
		}
	}
	for _, sp := range rc.SearchParams {
		dup := false
		for _, existing := range entry.SearchParams {
			if existing.Name == sp.Name {
				dup = true
				break
			}
		}
		if !dup {
			entry.SearchParams = append(entry.SearchParams, sp)
		}
	}
	for _, op := range rc.Operations {
		dup := false
		for _, existing := range entry.Operations {
			if existing.Name == op.Name {
				dup = true
				break
			}
		}
		if !dup {
			entry.Operations = append(entry.Operations, op)
		}
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ResourceTypes returns the registered types in alphabetical order.
func (b *CapabilityBuilder) ResourceTypes() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	types := make([]string, 0, len(b.resources))
	for rt := range b.resources {
		types = append(types, rt)
	}
	sort.Strings(types)
	return types
}

// Build constructs the CapabilityStatement. Resources are sorted by type.
func (b *CapabilityBuilder) Build(baseURL string) map[string]interface{} {
	types := b.ResourceTypes()

	b.mu.RLock()
	defer b.mu.RUnlock()

	resources := make([]map[string]interface{}, 0, len(types))
	for _, rt := range types {
		resources = append(resources, buildResourceEntry(b.resources[rt]))
	}

	if b.config.BaseURL != "" {
		baseURL = b.config.BaseURL
	}
	description := b.config.Description
	if description == "" {
		description = b.config.ServerName + " FHIR R4 terminology server"
	}

	cs := map[string]interface{}{
		"resourceType": "CapabilityStatement",
		"status":       "active",
		"date":         time.Now().UTC().Format("2006-01-02"),
		"kind":         "instance",
		"fhirVersion":  "4.0.1",
		"format":       []string{"application/fhir+json", "application/json"},
		"software": map[string]string{
			"name":    b.config.ServerName,
			"version": b.config.ServerVersion,
		},
		"implementation": map[string]string{
			"description": description,
			"url":         baseURL,
		},
		"rest": []map[string]interface{}{{
			"mode":     "server",
			"resource": resources,
			"security": map[string]interface{}{"cors": true},
		}},
	}
	if b.config.Publisher != "" {
		cs["publisher"] = b.config.Publisher
	}
	return cs
}

func buildResourceEntry(rc *ResourceCapability) map[string]interface{} {
	res := map[string]interface{}{
		"type":       rc.Type,
		"versioning": "no-version",
	}
	if rc.Profile != "" {
		res["profile"] = rc.Profile
	}
	if len(rc.Interactions) > 0 {
		interactions := make([]map[string]string, len(rc.Interactions))
		for i, code := range rc.Interactions {
			interactions[i] = map[string]string{"code": code}
		}
		res["interaction"] = interactions
	}
	if len(rc.SearchParams) > 0 {
		params := make([]map[string]string, len(rc.SearchParams))
		for i, sp := range rc.SearchParams {
			p := map[string]string{"name": sp.Name, "type": sp.Type}
			if sp.Documentation != "" {
				p["documentation"] = sp.Documentation
			}
			params[i] = p
		}
		res["searchParam"] = params
	}
	if len(rc.Operations) > 0 {
		ops := make([]map[string]interface{}, len(rc.Operations))
		for i, op := range rc.Operations {
			o := map[string]interface{}{"name": op.Name, "definition": op.Definition}
			if op.Documentation != "" {
				o["documentation"] = op.Documentation
			}
			ops[i] = o
		}
		res["operation"] = ops
	}
	return res
}

// CapabilityHandler serves the CapabilityStatement.
type CapabilityHandler struct {
	builder *CapabilityBuilder
}

func NewCapabilityHandler(builder *CapabilityBuilder) *CapabilityHandler {
	return &CapabilityHandler{builder: builder}
}

// RegisterRoutes mounts GET /metadata on the FHIR group.
func (h *CapabilityHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/metadata", h.GetMetadata)
}

// GetMetadata returns the full CapabilityStatement.
func (h *CapabilityHandler) GetMetadata(c echo.Context) error {
	base := c.Scheme() + "://" + c.Request().Host + "/fhir"
	return c.JSON(http.StatusOK, h.builder.Build(base))
}
