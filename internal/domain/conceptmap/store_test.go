package conceptmap

import (
	"errors"
	"math"
	"testing"

	"github.com/ayushbridge/bridge/internal/platform/fhir"
)

func TestBuilder_Validation(t *testing.T) {
	tests := []struct {
		name string
		cm   ConceptMap
	}{
		{"missing url", ConceptMap{ID: "x"}},
		{"unknown grade", ConceptMap{URL: "u1", SourceSystem: "a", TargetSystem: "b",
			Entries: []MappingEntry{{SourceCode: "1", TargetCode: "2", Equivalence: "similar"}}}},
		{"confidence above one", ConceptMap{URL: "u2", SourceSystem: "a", TargetSystem: "b",
			Entries: []MappingEntry{{SourceCode: "1", TargetCode: "2", Equivalence: EquivalenceEqual, Confidence: conf(1.5)}}}},
		{"negative confidence", ConceptMap{URL: "u3", SourceSystem: "a", TargetSystem: "b",
			Entries: []MappingEntry{{SourceCode: "1", TargetCode: "2", Equivalence: EquivalenceEqual, Confidence: conf(-0.1)}}}},
		{"NaN confidence", ConceptMap{URL: "u6", SourceSystem: "a", TargetSystem: "b",
			Entries: []MappingEntry{{SourceCode: "1", TargetCode: "2", Equivalence: EquivalenceEqual, Confidence: conf(math.NaN())}}}},
		{"duplicate tuple", ConceptMap{URL: "u4", SourceSystem: "a", TargetSystem: "b",
			Entries: []MappingEntry{
				{SourceCode: "1", TargetCode: "2", Equivalence: EquivalenceEqual},
				{SourceCode: "1", TargetCode: "2", Equivalence: EquivalenceWider},
			}}},
		{"missing target system", ConceptMap{URL: "u5", SourceSystem: "a",
			Entries: []MappingEntry{{SourceCode: "1", TargetCode: "2", Equivalence: EquivalenceEqual}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := NewBuilder().Add(tt.cm); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestBuilder_DuplicateMap(t *testing.T) {
	b := NewBuilder()
	if err := b.Add(ConceptMap{ID: "m", URL: "u"}); err != nil {
		t.Fatal(err)
	}
	if err := b.Add(ConceptMap{ID: "m", URL: "other"}); err == nil {
		t.Error("expected error for duplicate id")
	}
	if err := b.Add(ConceptMap{ID: "other", URL: "u"}); err == nil {
		t.Error("expected error for duplicate url")
	}
}

func TestStore_GetByIDAndURL(t *testing.T) {
	s := newTestMaps(t)

	byID, err := s.Get("namaste-tm2")
	if err != nil {
		t.Fatal(err)
	}
	byURL, err := s.Get("https://ayush.gov.in/fhir/ConceptMap/namaste-tm2")
	if err != nil {
		t.Fatal(err)
	}
	if byID != byURL {
		t.Error("expected id and url to resolve to the same map")
	}
	if _, err := s.Get("nope"); !errors.Is(err, fhir.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_EntriesInheritSystems(t *testing.T) {
	s := newTestMaps(t)

	entries, err := s.Forward("", namasteURL, "Y1")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].SourceSystem != namasteURL || entries[0].TargetSystem != icdURL {
		t.Errorf("expected systems inherited from map, got %+v", entries[0])
	}
}

func TestStore_Stats(t *testing.T) {
	s := newTestMaps(t)

	st := s.Stats()
	if st.Total != 7 || s.Count() != 7 {
		t.Errorf("expected 7 entries, got %d/%d", st.Total, s.Count())
	}
	if st.Maps != 3 {
		t.Errorf("expected 3 maps, got %d", st.Maps)
	}
	if st.ByEquivalence[EquivalenceEquivalent] != 2 {
		t.Errorf("expected 2 equivalent entries, got %d", st.ByEquivalence[EquivalenceEquivalent])
	}
	if st.Scored != 5 || st.Unscored != 2 {
		t.Errorf("expected 5 scored and 2 unscored, got %d/%d", st.Scored, st.Unscored)
	}
	if st.ByTargetSystem[icdURL] != 6 {
		t.Errorf("expected 6 entries targeting ICD-11, got %d", st.ByTargetSystem[icdURL])
	}
	if st.AverageConfidence == nil {
		t.Error("expected average confidence")
	}
}

func TestBuilder_ResolvesEntrySystems(t *testing.T) {
	urls := map[string]string{"NAMASTE": "https://ayush.gov.in/fhir/CodeSystem/namaste", "ICD-11": "http://id.who.int/icd/release/11/mms"}
	b := NewBuilder().ResolveSystems(func(ref string) string {
		if u, ok := urls[ref]; ok {
			return u
		}
		return ref
	})
	err := b.Add(ConceptMap{ID: "cm", URL: "u", SourceSystem: "NAMASTE",
		Entries: []MappingEntry{{SourceCode: "Y1", TargetSystem: "ICD-11", TargetCode: "MG30.0", Equivalence: EquivalenceEquivalent}}})
	if err != nil {
		t.Fatal(err)
	}
	s := b.Build()
	entries, err := s.Forward("", urls["NAMASTE"], "Y1")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].TargetSystem != urls["ICD-11"] {
		t.Fatalf("expected entry resolved to %s, got %+v", urls["ICD-11"], entries)
	}
	cm, _ := s.Get("cm")
	if cm.SourceSystem != urls["NAMASTE"] {
		t.Errorf("expected map source system resolved, got %s", cm.SourceSystem)
	}
}
