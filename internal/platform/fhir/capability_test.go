package fhir

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestCapabilityBuilder_MergesAndSorts(t *testing.T) {
	b := NewCapabilityBuilder(CapabilityConfig{ServerVersion: "1.2.3"})
	b.AddResource(ResourceCapability{Type: "ValueSet", Interactions: []string{"read"},
		Operations: []OperationCapability{{Name: "expand", Definition: "http://hl7.org/fhir/OperationDefinition/ValueSet-expand"}}})
	b.AddResource(ResourceCapability{Type: "CodeSystem", Interactions: []string{"read"}})
	b.AddResource(ResourceCapability{Type: "ValueSet", Interactions: []string{"read", "search-type"},
		Operations: []OperationCapability{{Name: "expand"}}})

	types := b.ResourceTypes()
	if len(types) != 2 || types[0] != "CodeSystem" || types[1] != "ValueSet" {
		t.Fatalf("unexpected types %v", types)
	}

	cs := b.Build("http://localhost/fhir")
	if cs["resourceType"] != "CapabilityStatement" || cs["fhirVersion"] != "4.0.1" {
		t.Errorf("unexpected header %v", cs)
	}
	if impl := cs["implementation"].(map[string]string); impl["url"] != "http://localhost/fhir" {
		t.Errorf("unexpected implementation %v", impl)
	}
	if sw := cs["software"].(map[string]string); sw["name"] != "AyushBridge" || sw["version"] != "1.2.3" {
		t.Errorf("unexpected software %v", sw)
	}

	rest := cs["rest"].([]map[string]interface{})
	resources := rest[0]["resource"].([]map[string]interface{})
	vs := resources[1]
	if got := vs["interaction"].([]map[string]string); len(got) != 2 {
		t.Errorf("expected merged interactions, got %v", got)
	}
	if got := vs["operation"].([]map[string]interface{}); len(got) != 1 {
		t.Errorf("expected a single expand operation, got %v", got)
	}
}

func TestCapabilityBuilder_ConfiguredBaseURL(t *testing.T) {
	b := NewCapabilityBuilder(CapabilityConfig{BaseURL: "https://terminology.example.org/fhir"})
	cs := b.Build("http://ignored/fhir")
	if impl := cs["implementation"].(map[string]string); impl["url"] != "https://terminology.example.org/fhir" {
		t.Errorf("unexpected implementation url %q", impl["url"])
	}
}

func TestCapabilityHandler_Metadata(t *testing.T) {
	e := echo.New()
	NewCapabilityHandler(NewCapabilityBuilder(CapabilityConfig{})).RegisterRoutes(e.Group("/fhir"))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fhir/metadata", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
