package terminology

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ayushbridge/bridge/internal/domain/conceptmap"
	"github.com/ayushbridge/bridge/internal/domain/valueset"
	"github.com/ayushbridge/bridge/internal/platform/cache"
	"github.com/ayushbridge/bridge/internal/platform/fhir"
)

func newTestService(t *testing.T) (*Service, *Manager, *cache.MemoryCache) {
	t.Helper()
	m, _ := loadedManager(t)
	mc := cache.NewMemoryCache(64)
	return NewService(m, mc, time.Minute, zerolog.Nop()), m, mc
}

func paramsNamed(p *fhir.Parameters, name string) []fhir.Parameter {
	var out []fhir.Parameter
	for _, param := range p.Parameter {
		if param.Name == name {
			out = append(out, param)
		}
	}
	return out
}

func partNamed(p fhir.Parameter, name string) (fhir.Parameter, bool) {
	for _, part := range p.Part {
		if part.Name == name {
			return part, true
		}
	}
	return fhir.Parameter{}, false
}

// propertyCodes returns the code of every property parameter in order.
func propertyCodes(p *fhir.Parameters) []string {
	var out []string
	for _, prop := range paramsNamed(p, "property") {
		if code, ok := partNamed(prop, "code"); ok {
			out = append(out, code.String())
		}
	}
	return out
}

func TestService_Lookup(t *testing.T) {
	svc, _, _ := newTestService(t)

	p, err := svc.Lookup(context.Background(), &LookupRequest{System: namasteURL, Code: "Y1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name, _ := p.Get("name"); name.String() != "NAMASTE Morbidity Codes" {
		t.Errorf("expected the system title as name, got %q", name.String())
	}
	if v, _ := p.Get("version"); v.String() != "1.0" {
		t.Errorf("expected version 1.0, got %q", v.String())
	}
	if d, _ := p.Get("display"); d.String() != "Jwara (Fever)" {
		t.Errorf("unexpected display %q", d.String())
	}
	if d, _ := p.Get("definition"); d.String() != "Elevated body temperature" {
		t.Errorf("unexpected definition %q", d.String())
	}

	codes := propertyCodes(p)
	want := []string{PropertyStatus, "traditional_system", PropertyMapping}
	if len(codes) != len(want) {
		t.Fatalf("expected properties %v, got %v", want, codes)
	}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("property %d: expected %s, got %s", i, want[i], codes[i])
		}
	}

	props := paramsNamed(p, "property")
	mapping := props[len(props)-1]
	value, ok := partNamed(mapping, "value")
	if !ok || value.ValueCoding == nil {
		t.Fatal("mapping property has no coding")
	}
	if value.ValueCoding.Code != "MG30.0" || value.ValueCoding.System != icdURL || value.ValueCoding.Display != "Fever, unspecified" {
		t.Errorf("unexpected mapping coding %+v", *value.ValueCoding)
	}
}

func TestService_LookupByIDAndVersion(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, err := svc.Lookup(context.Background(), &LookupRequest{System: "namaste", Code: "Y2"}); err != nil {
		t.Errorf("lookup by id: %v", err)
	}
	if _, err := svc.Lookup(context.Background(), &LookupRequest{System: namasteURL, Version: "1.0", Code: "Y2"}); err != nil {
		t.Errorf("lookup by version: %v", err)
	}
	_, err := svc.Lookup(context.Background(), &LookupRequest{System: namasteURL, Version: "9.9", Code: "Y2"})
	if !errors.Is(err, fhir.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown version, got %v", err)
	}
}

func TestService_LookupFiltersProperties(t *testing.T) {
	svc, _, _ := newTestService(t)

	p, err := svc.Lookup(context.Background(), &LookupRequest{System: namasteURL, Code: "Y1", Properties: []string{"nothing"}, NoMappings: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	codes := propertyCodes(p)
	if len(codes) != 1 || codes[0] != PropertyStatus {
		t.Errorf("expected only status, got %v", codes)
	}
}

func TestService_LookupErrors(t *testing.T) {
	svc, _, _ := newTestService(t)
	tests := []struct {
		name string
		req  LookupRequest
		want error
	}{
		{"unknown code", LookupRequest{System: namasteURL, Code: "Z9"}, fhir.ErrNotFound},
		{"unknown system", LookupRequest{System: "http://example.org/cs", Code: "Y1"}, fhir.ErrNotFound},
		{"missing code", LookupRequest{System: namasteURL}, fhir.ErrInvalidFilter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			if _, err := svc.Lookup(context.Background(), &req); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestService_ValidateCode(t *testing.T) {
	svc, _, _ := newTestService(t)
	tests := []struct {
		name     string
		req      ValidateCodeRequest
		valid    bool
		inactive bool
	}{
		{"known code", ValidateCodeRequest{System: namasteURL, Code: "Y1"}, true, false},
		{"inactive code", ValidateCodeRequest{System: namasteURL, Code: "Y3"}, true, true},
		{"unknown code", ValidateCodeRequest{System: namasteURL, Code: "Z9"}, false, false},
		{"unknown system", ValidateCodeRequest{System: "http://example.org/cs", Code: "Y1"}, false, false},
		{"display matches", ValidateCodeRequest{System: namasteURL, Code: "Y1", Display: "jwara (fever)"}, true, false},
		{"display differs", ValidateCodeRequest{System: namasteURL, Code: "Y1", Display: "Kasa"}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			p, err := svc.ValidateCode(context.Background(), &req)
			if err != nil {
				t.Fatalf("validate-code must not fail: %v", err)
			}
			result, _ := p.Get("result")
			if result.ValueBoolean == nil || *result.ValueBoolean != tt.valid {
				t.Errorf("expected result %v", tt.valid)
			}
			_, inactive := p.Get("inactive")
			if inactive != tt.inactive {
				t.Errorf("expected inactive=%v", tt.inactive)
			}
			if !tt.valid {
				if msg, ok := p.Get("message"); !ok || msg.String() == "" {
					t.Error("expected a message for an invalid code")
				}
			}
		})
	}
}

func TestService_TranslateUsesCache(t *testing.T) {
	svc, _, mc := newTestService(t)
	req := conceptmap.TranslateRequest{System: namasteURL, Code: "Y1"}

	first, err := svc.Translate(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first.Result || len(first.Matches) != 1 {
		t.Fatalf("expected one match, got %+v", first)
	}
	m := first.Matches[0]
	if m.TargetCode != "MG30.0" || m.Equivalence != conceptmap.EquivalenceEquivalent || m.Source != mapURL {
		t.Errorf("unexpected match %+v", m)
	}

	second, err := svc.Translate(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st := mc.Stats(); st.Hits != 1 || st.Size != 1 {
		t.Errorf("expected one cached entry and one hit, got %+v", st)
	}
	if second.Matches[0].TargetCode != "MG30.0" || *second.Matches[0].Confidence != 0.9 {
		t.Errorf("cached translation differs: %+v", second.Matches[0])
	}
}

func TestService_CacheKeyFollowsSnapshotVersion(t *testing.T) {
	svc, m, mc := newTestService(t)
	req := conceptmap.TranslateRequest{System: namasteURL, Code: "Y2"}
	if _, err := svc.Translate(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Translate(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if st := mc.Stats(); st.Hits != 0 || st.Size != 2 {
		t.Errorf("expected a miss per snapshot version, got %+v", st)
	}
}

func TestService_TranslateErrorsAreNotCached(t *testing.T) {
	svc, _, mc := newTestService(t)
	req := conceptmap.TranslateRequest{System: namasteURL, Code: "Z9"}
	for i := 0; i < 2; i++ {
		if _, err := svc.Translate(context.Background(), req); !errors.Is(err, fhir.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	}
	if mc.Stats().Size != 0 {
		t.Error("an error result was cached")
	}
}

func TestService_TranslateNoMatch(t *testing.T) {
	svc, _, _ := newTestService(t)
	tr, err := svc.Translate(context.Background(), conceptmap.TranslateRequest{System: namasteURL, Code: "Y3"})
	if err != nil {
		t.Fatalf("no match must not be an error: %v", err)
	}
	if tr.Result || len(tr.Matches) != 0 {
		t.Errorf("expected an empty result, got %+v", tr)
	}
}

func TestService_Expand(t *testing.T) {
	svc, _, _ := newTestService(t)

	r, err := svc.Expand(context.Background(), valueset.ExpandRequest{ValueSet: "fevers", Limit: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Definition == nil || r.Definition.ID != "fevers" {
		t.Fatalf("expected the fevers definition, got %+v", r.Definition)
	}
	if r.Expansion.Total != 2 {
		t.Fatalf("expected 2 fever concepts, got %d", r.Expansion.Total)
	}
	if r.Expansion.Contains[0].Code != "Y1" || r.Expansion.Contains[1].Code != "MG30.0" {
		t.Errorf("unexpected order %+v", r.Expansion.Contains)
	}

	again, err := svc.Expand(context.Background(), valueset.ExpandRequest{ValueSet: "fevers", Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if again.Expansion.Identifier != r.Expansion.Identifier {
		t.Error("a cached expansion should keep its identifier")
	}
}

func TestService_ExpandUnknownValueSet(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Expand(context.Background(), valueset.ExpandRequest{ValueSet: "missing", Limit: 10})
	if !errors.Is(err, fhir.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestService_Search(t *testing.T) {
	svc, _, _ := newTestService(t)
	r, err := svc.Search(context.Background(), "namaste", "yoga", 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Total != 1 || len(r.Concepts) != 1 || r.Concepts[0].Code != "Y3" || !r.Concepts[0].Inactive {
		t.Errorf("unexpected search result %+v", r)
	}
}

func TestService_Stats(t *testing.T) {
	svc, _, _ := newTestService(t)
	st, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 2 || st.Maps != 1 || st.Scored != 1 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestService_Unavailable(t *testing.T) {
	m := newTestManager(&fakeSource{name: "fake", bundle: testBundle()})
	svc := NewService(m, nil, time.Minute, zerolog.Nop())
	if _, err := svc.Translate(context.Background(), conceptmap.TranslateRequest{System: namasteURL, Code: "Y1"}); !errors.Is(err, fhir.ErrSnapshotUnavailable) {
		t.Errorf("expected ErrSnapshotUnavailable, got %v", err)
	}
	if _, err := svc.Stats(context.Background()); !errors.Is(err, fhir.ErrSnapshotUnavailable) {
		t.Errorf("expected ErrSnapshotUnavailable, got %v", err)
	}

	sum, err := svc.Reload(context.Background())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if sum.Version != 1 || sum.Concepts != 5 {
		t.Errorf("unexpected summary %+v", sum)
	}
}

func TestService_CancelledContext(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.Expand(ctx, valueset.ExpandRequest{ValueSet: "namaste", Limit: 10}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
