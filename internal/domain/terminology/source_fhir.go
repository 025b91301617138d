package terminology

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofhir/fhir/r4"

	"github.com/ayushbridge/bridge/internal/domain/codesystem"
	"github.com/ayushbridge/bridge/internal/domain/conceptmap"
	"github.com/ayushbridge/bridge/internal/domain/valueset"
)

// ConfidenceExtensionURL carries a mapping confidence on a ConceptMap
// element target as valueDecimal.
const ConfidenceExtensionURL = "https://ayush.gov.in/fhir/StructureDefinition/mapping-confidence"

// FHIRDirSource loads CodeSystem, ValueSet and ConceptMap resources, or
// Bundles of them, from *.json files under a directory. Files are read in
// lexical path order.
type FHIRDirSource struct {
	fsys fs.FS
	root string
}

func NewFHIRDirSource(dir string) *FHIRDirSource {
	return &FHIRDirSource{fsys: os.DirFS(dir), root: dir}
}

// NewFHIRFSSource reads from an fs.FS, such as an embedded directory.
func NewFHIRFSSource(fsys fs.FS, name string) *FHIRDirSource {
	return &FHIRDirSource{fsys: fsys, root: name}
}

func (s *FHIRDirSource) Name() string { return "fhir:" + s.root }

func (s *FHIRDirSource) Fetch(ctx context.Context) (*Bundle, error) {
	out := &Bundle{}
	err := fs.WalkDir(s.fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".json") {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := fs.ReadFile(s.fsys, path)
		if err != nil {
			return err
		}
		if err := decodeResource(data, out); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// decodeResource dispatches on resourceType. Unrelated resources are
// ignored.
func decodeResource(data []byte, out *Bundle) error {
	var probe struct {
		ResourceType string `json:"resourceType"`
		Entry        []struct {
			Resource json.RawMessage `json:"resource"`
		} `json:"entry"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	switch probe.ResourceType {
	case "Bundle":
		for i, e := range probe.Entry {
			if len(e.Resource) == 0 {
				continue
			}
			if err := decodeResource(e.Resource, out); err != nil {
				return fmt.Errorf("entry %d: %w", i, err)
			}
		}
	case "CodeSystem":
		var cs r4.CodeSystem
		if err := json.Unmarshal(data, &cs); err != nil {
			return fmt.Errorf("parse CodeSystem: %w", err)
		}
		system, concepts, err := fromR4CodeSystem(&cs)
		if err != nil {
			return err
		}
		out.Systems = append(out.Systems, system)
		out.Concepts = append(out.Concepts, concepts...)
	case "ValueSet":
		var vs r4.ValueSet
		if err := json.Unmarshal(data, &vs); err != nil {
			return fmt.Errorf("parse ValueSet: %w", err)
		}
		def, err := fromR4ValueSet(&vs)
		if err != nil {
			return err
		}
		out.ValueSets = append(out.ValueSets, def)
	case "ConceptMap":
		var cm fhirConceptMap
		if err := json.Unmarshal(data, &cm); err != nil {
			return fmt.Errorf("parse ConceptMap: %w", err)
		}
		m, err := cm.toConceptMap()
		if err != nil {
			return err
		}
		out.Maps = append(out.Maps, m)
	}
	return nil
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func fromR4CodeSystem(cs *r4.CodeSystem) (codesystem.CodingSystem, []codesystem.Concept, error) {
	if cs.Url == nil || *cs.Url == "" {
		return codesystem.CodingSystem{}, nil, fmt.Errorf("CodeSystem %q has no url", str(cs.Id))
	}
	system := codesystem.CodingSystem{
		ID:        str(cs.Id),
		URL:       *cs.Url,
		Name:      str(cs.Name),
		Title:     str(cs.Title),
		Version:   str(cs.Version),
		Publisher: str(cs.Publisher),
	}
	var concepts []codesystem.Concept
	var walk func(items []r4.CodeSystemConcept, parent string)
	walk = func(items []r4.CodeSystemConcept, parent string) {
		for i := range items {
			item := &items[i]
			if item.Code == nil {
				continue
			}
			c := codesystem.Concept{
				System:     system.URL,
				Version:    system.Version,
				Code:       *item.Code,
				Display:    str(item.Display),
				Definition: str(item.Definition),
			}
			if parent != "" {
				c.ParentCodes = append(c.ParentCodes, parent)
			}
			for _, p := range item.Property {
				name := str(p.Code)
				switch {
				case name == "subsumedBy" && p.ValueCode != nil:
					c.ParentCodes = append(c.ParentCodes, *p.ValueCode)
				case name == "status" && p.ValueCode != nil:
					c.Status = statusFromFHIR(*p.ValueCode)
				case name == "inactive" && p.ValueBoolean != nil:
					if *p.ValueBoolean {
						c.Status = codesystem.StatusInactive
					}
				case p.ValueCode != nil:
					c.Properties = append(c.Properties, codesystem.Property{Name: name, Type: codesystem.PropertyCode, Value: *p.ValueCode})
				case p.ValueString != nil:
					c.Properties = append(c.Properties, codesystem.Property{Name: name, Value: *p.ValueString})
				case p.ValueBoolean != nil:
					c.Properties = append(c.Properties, codesystem.Property{
						Name: name, Type: codesystem.PropertyBoolean, Value: fmt.Sprint(*p.ValueBoolean),
					})
				}
			}
			concepts = append(concepts, c)
			walk(item.Concept, c.Code)
		}
	}
	walk(cs.Concept, "")
	return system, concepts, nil
}

func statusFromFHIR(code string) string {
	switch code {
	case "retired", "inactive":
		return codesystem.StatusInactive
	case "deprecated":
		return codesystem.StatusDeprecated
	default:
		return codesystem.StatusActive
	}
}

func fromR4ValueSet(vs *r4.ValueSet) (valueset.Definition, error) {
	def := valueset.Definition{
		ID:      str(vs.Id),
		URL:     str(vs.Url),
		Name:    str(vs.Name),
		Title:   str(vs.Title),
		Version: str(vs.Version),
	}
	if vs.Compose == nil {
		return def, fmt.Errorf("ValueSet %s has no compose", def.URL)
	}
	if vs.Compose.Inactive != nil && !*vs.Compose.Inactive {
		def.ActiveOnly = true
	}
	for _, inc := range vs.Compose.Include {
		system := str(inc.System)
		if len(inc.ValueSet) > 0 {
			return def, fmt.Errorf("ValueSet %s: include of other value sets is not supported", def.URL)
		}
		base := valueset.Include{System: system}
		for _, c := range inc.Concept {
			if c.Code != nil {
				base.Codes = append(base.Codes, *c.Code)
			}
		}
		var extra []valueset.Include
		for _, f := range inc.Filter {
			op, prop := "", str(f.Property)
			if f.Op != nil {
				op = string(*f.Op)
			}
			if prop != "concept" || (op != "descendent-of" && op != "is-a") {
				return def, fmt.Errorf("ValueSet %s: unsupported filter %s %s on %s", def.URL, prop, op, system)
			}
			if f.Value == nil || *f.Value == "" {
				return def, fmt.Errorf("ValueSet %s: filter %s %s has no value", def.URL, prop, op)
			}
			if base.ParentCode != "" {
				return def, fmt.Errorf("ValueSet %s: more than one hierarchy filter on %s", def.URL, system)
			}
			base.ParentCode = *f.Value
			if op == "is-a" {
				extra = append(extra, valueset.Include{System: system, Codes: []string{*f.Value}})
			}
		}
		def.Include = append(def.Include, base)
		def.Include = append(def.Include, extra...)
	}
	for _, ex := range vs.Compose.Exclude {
		e := valueset.Exclude{System: str(ex.System)}
		if len(ex.Filter) > 0 || len(ex.ValueSet) > 0 {
			return def, fmt.Errorf("ValueSet %s: exclude on %s must enumerate codes", def.URL, e.System)
		}
		for _, c := range ex.Concept {
			if c.Code != nil {
				e.Codes = append(e.Codes, *c.Code)
			}
		}
		def.Exclude = append(def.Exclude, e)
	}
	return def, nil
}

// fhirConceptMap is the subset of the R4 ConceptMap shape the engine reads.
type fhirConceptMap struct {
	ID              string `json:"id"`
	URL             string `json:"url"`
	Name            string `json:"name"`
	Version         string `json:"version"`
	SourceURI       string `json:"sourceUri"`
	SourceCanonical string `json:"sourceCanonical"`
	TargetURI       string `json:"targetUri"`
	TargetCanonical string `json:"targetCanonical"`
	Group           []struct {
		Source  string `json:"source"`
		Target  string `json:"target"`
		Element []struct {
			Code   string `json:"code"`
			Target []struct {
				Code        string `json:"code"`
				Equivalence string `json:"equivalence"`
				Comment     string `json:"comment"`
				Extension   []struct {
					URL          string   `json:"url"`
					ValueDecimal *float64 `json:"valueDecimal"`
				} `json:"extension"`
			} `json:"target"`
		} `json:"element"`
	} `json:"group"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (f *fhirConceptMap) toConceptMap() (conceptmap.ConceptMap, error) {
	cm := conceptmap.ConceptMap{
		ID:           f.ID,
		URL:          f.URL,
		Name:         f.Name,
		Version:      f.Version,
		SourceSystem: firstNonEmpty(f.SourceURI, f.SourceCanonical),
		TargetSystem: firstNonEmpty(f.TargetURI, f.TargetCanonical),
	}
	for _, g := range f.Group {
		if cm.SourceSystem == "" {
			cm.SourceSystem = g.Source
		}
		if cm.TargetSystem == "" {
			cm.TargetSystem = g.Target
		}
		for _, el := range g.Element {
			for _, t := range el.Target {
				eq, err := conceptmap.ParseEquivalence(t.Equivalence)
				if err != nil {
					return cm, fmt.Errorf("ConceptMap %s element %s: %w", cm.URL, el.Code, err)
				}
				entry := conceptmap.MappingEntry{
					SourceSystem: g.Source,
					SourceCode:   el.Code,
					TargetSystem: g.Target,
					TargetCode:   t.Code,
					Equivalence:  eq,
					Comment:      t.Comment,
				}
				for _, ext := range t.Extension {
					if ext.URL == ConfidenceExtensionURL && ext.ValueDecimal != nil {
						v := *ext.ValueDecimal
						entry.Confidence = &v
					}
				}
				cm.Entries = append(cm.Entries, entry)
			}
		}
	}
	return cm, nil
}
