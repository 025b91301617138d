package terminology

import (
	"github.com/ayushbridge/bridge/internal/domain/codesystem"
	"github.com/ayushbridge/bridge/internal/domain/conceptmap"
	"github.com/ayushbridge/bridge/internal/platform/fhir"
)

// Property codes added to $lookup output beside the concept's own.
const (
	PropertyStatus  = "status"
	PropertyParent  = "parent"
	PropertyMapping = "mapping"
)

func propertyValue(p codesystem.Property) fhir.Parameter {
	key, v := p.FHIRValue()
	switch key {
	case "valueCode":
		return fhir.CodeParam("value", v.(string))
	case "valueBoolean":
		return fhir.BoolParam("value", v.(bool))
	case "valueInteger":
		return fhir.IntParam("value", v.(int))
	case "valueDecimal":
		return fhir.DecimalParam("value", v.(float64))
	default:
		return fhir.StringParam("value", p.Value)
	}
}

func lookupParameters(cs *codesystem.CodingSystem, c *codesystem.Concept, names []string, mappings []Mapping) *fhir.Parameters {
	name := cs.Title
	if name == "" {
		name = cs.Name
	}
	p := fhir.NewParameters(fhir.StringParam("name", name))
	if cs.Version != "" {
		p.Add(fhir.StringParam("version", cs.Version))
	}
	p.Add(fhir.StringParam("display", c.Display))
	if c.Definition != "" {
		p.Add(fhir.StringParam("definition", c.Definition))
	}

	p.Add(fhir.PartParam("property", fhir.CodeParam("code", PropertyStatus), fhir.CodeParam("value", c.Status)))
	for _, parent := range c.ParentCodes {
		p.Add(fhir.PartParam("property", fhir.CodeParam("code", PropertyParent), fhir.CodeParam("value", parent)))
	}
	for _, prop := range c.PropertiesNamed(names) {
		p.Add(fhir.PartParam("property", fhir.CodeParam("code", prop.Name), propertyValue(prop)))
	}

	for _, m := range mappings {
		parts := []fhir.Parameter{
			fhir.CodeParam("code", PropertyMapping),
			fhir.CodingParam("value", fhir.Coding{System: m.TargetSystem, Code: m.TargetCode, Display: m.TargetDisplay}),
			fhir.PartParam("subproperty", fhir.CodeParam("code", "equivalence"), fhir.CodeParam("value", string(m.Equivalence))),
			fhir.PartParam("subproperty", fhir.CodeParam("code", "source"), fhir.URIParam("value", m.Source)),
		}
		if m.Confidence != nil {
			parts = append(parts, fhir.PartParam("subproperty", fhir.CodeParam("code", "confidence"), fhir.DecimalParam("value", *m.Confidence)))
		}
		p.Add(fhir.PartParam("property", parts...))
	}
	return p
}

func validationParameters(v codesystem.Validation) *fhir.Parameters {
	p := fhir.NewParameters(fhir.BoolParam("result", v.Valid))
	if v.Concept != nil {
		p.Add(fhir.StringParam("display", v.Concept.Display))
		if !v.Concept.Active() {
			p.Add(fhir.BoolParam("inactive", true))
		}
	}
	if v.Message != "" {
		p.Add(fhir.StringParam("message", v.Message))
	}
	return p
}

// TranslationParameters renders a translation as the $translate output. Each
// match carries equivalence, concept and source, plus confidence, comment
// and the intermediate concept when present.
func TranslationParameters(t *conceptmap.Translation) *fhir.Parameters {
	p := fhir.NewParameters(fhir.BoolParam("result", t.Result))
	if t.Message != "" {
		p.Add(fhir.StringParam("message", t.Message))
	}
	for _, m := range t.Matches {
		parts := []fhir.Parameter{
			fhir.CodeParam("equivalence", string(m.Equivalence)),
			fhir.CodingParam("concept", fhir.Coding{System: m.TargetSystem, Code: m.TargetCode, Display: m.TargetDisplay}),
			fhir.URIParam("source", m.Source),
		}
		if m.Confidence != nil {
			parts = append(parts, fhir.DecimalParam("confidence", *m.Confidence))
		}
		if m.Comment != "" {
			parts = append(parts, fhir.StringParam("comment", m.Comment))
		}
		if m.Via != nil {
			parts = append(parts, fhir.PartParam("via",
				fhir.CodingParam("concept", fhir.Coding{System: m.Via.System, Code: m.Via.Code, Display: m.Via.Display}),
				fhir.URIParam("source", m.Via.Source),
			))
		}
		p.Add(fhir.PartParam("match", parts...))
	}
	return p
}
