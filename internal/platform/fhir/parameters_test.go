package fhir

import (
	"encoding/json"
	"testing"
)

func TestParameters_GetAndString(t *testing.T) {
	p := NewParameters(
		URIParam("system", "https://ayush.gov.in/fhir/CodeSystem/namaste"),
		CodeParam("code", "Y1"),
		StringParam("display", "Jwara (Fever)"),
		BoolParam("result", true),
	)
	p.Add(StringParam("display", "second"))

	tests := []struct {
		name string
		want string
	}{
		{"system", "https://ayush.gov.in/fhir/CodeSystem/namaste"},
		{"code", "Y1"},
		{"display", "Jwara (Fever)"},
		{"result", ""},
	}
	for _, tt := range tests {
		got, ok := p.Get(tt.name)
		if !ok {
			t.Errorf("%s: not found", tt.name)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("%s: expected %q, got %q", tt.name, tt.want, got.String())
		}
	}
	if _, ok := p.Get("missing"); ok {
		t.Error("expected missing parameter to be absent")
	}
}

func TestParameters_JSON(t *testing.T) {
	empty, err := json.Marshal(NewParameters())
	if err != nil {
		t.Fatal(err)
	}
	if string(empty) != `{"resourceType":"Parameters","parameter":[]}` {
		t.Errorf("unexpected empty encoding %s", empty)
	}

	p := NewParameters(
		PartParam("match",
			CodeParam("equivalence", "equivalent"),
			CodingParam("concept", Coding{System: "http://id.who.int/icd/release/11/mms", Code: "MG30.0"}),
			DecimalParam("confidence", 0.9),
			IntParam("rank", 1),
		),
	)
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	var decoded Parameters
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	match, ok := decoded.Get("match")
	if !ok || len(match.Part) != 4 {
		t.Fatalf("unexpected match %+v", match)
	}
	if c := match.Part[1].ValueCoding; c == nil || c.Code != "MG30.0" {
		t.Errorf("unexpected coding %+v", c)
	}
	if d := match.Part[2].ValueDecimal; d == nil || *d != 0.9 {
		t.Errorf("unexpected decimal %v", d)
	}
	if n := match.Part[3].ValueInteger; n == nil || *n != 1 {
		t.Errorf("unexpected integer %v", n)
	}
}
