package terminology

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/ayushbridge/bridge/internal/domain/codesystem"
	"github.com/ayushbridge/bridge/internal/domain/conceptmap"
)

// MappingsSheet is the optional worksheet holding NAMASTE to ICD-11 rows.
const MappingsSheet = "Mappings"

// NamasteSheetSource reads the NAMASTE code list from a spreadsheet. The
// first sheet holds one concept per row under a header row; an optional
// Mappings sheet becomes a ConceptMap.
type NamasteSheetSource struct {
	path      string
	systemURL string
	version   string
}

func NewNamasteSheetSource(path, systemURL, version string) *NamasteSheetSource {
	if version == "" {
		version = "1.0"
	}
	return &NamasteSheetSource{path: path, systemURL: systemURL, version: version}
}

func (s *NamasteSheetSource) Name() string { return "xlsx:" + s.path }

// Header aliases, lower-cased.
var (
	colCode       = []string{"code", "namc_code", "namaste code"}
	colDisplay    = []string{"english name", "display", "term", "namc_term"}
	colTradition  = []string{"system", "system name", "traditional system"}
	colLocal      = []string{"local name", "namc_term_diacritical"}
	colDefinition = []string{"description", "definition", "short_definition"}
	colCategory   = []string{"category"}
	colIndication = []string{"indication"}
	colParent     = []string{"parent", "parent code"}
	colStatus     = []string{"status"}

	colSource     = []string{"namaste code", "source code", "code"}
	colTargetSys  = []string{"target system"}
	colTarget     = []string{"target code", "icd-11 code", "icd11 code"}
	colEquivalent = []string{"equivalence"}
	colConfidence = []string{"confidence"}
	colComment    = []string{"comment"}
)

type header map[string]int

func newHeader(row []string) header {
	h := make(header, len(row))
	for i, name := range row {
		h[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return h
}

func (h header) index(aliases []string) int {
	for _, a := range aliases {
		if i, ok := h[a]; ok {
			return i
		}
	}
	return -1
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (s *NamasteSheetSource) Fetch(ctx context.Context) (*Bundle, error) {
	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("open spreadsheet: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, fmt.Errorf("spreadsheet has no sheets")
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", sheet, err)
	}

	out := &Bundle{Systems: []codesystem.CodingSystem{{
		ID:        "namaste",
		URL:       s.systemURL,
		Name:      "NAMASTE",
		Title:     "National AYUSH Morbidity and Standardized Terminologies Electronic",
		Version:   s.version,
		Publisher: "Ministry of AYUSH",
	}}}
	concepts, err := s.concepts(rows)
	if err != nil {
		return nil, err
	}
	out.Concepts = concepts

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if idx, _ := f.GetSheetIndex(MappingsSheet); idx >= 0 {
		rows, err := f.GetRows(MappingsSheet)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", MappingsSheet, err)
		}
		cm, err := s.mappings(rows)
		if err != nil {
			return nil, err
		}
		if len(cm.Entries) > 0 {
			out.Maps = append(out.Maps, cm)
		}
	}
	return out, nil
}

func (s *NamasteSheetSource) concepts(rows [][]string) ([]codesystem.Concept, error) {
	if len(rows) < 2 {
		return nil, nil
	}
	h := newHeader(rows[0])
	code, display := h.index(colCode), h.index(colDisplay)
	if code < 0 || display < 0 {
		return nil, fmt.Errorf("sheet header must name a code and an english name column")
	}
	tradition, local, definition := h.index(colTradition), h.index(colLocal), h.index(colDefinition)
	category, indication := h.index(colCategory), h.index(colIndication)
	parent, status := h.index(colParent), h.index(colStatus)

	out := make([]codesystem.Concept, 0, len(rows)-1)
	for n, row := range rows[1:] {
		c := codesystem.Concept{
			System:     s.systemURL,
			Version:    s.version,
			Code:       cell(row, code),
			Display:    cell(row, display),
			Definition: cell(row, definition),
			Status:     strings.ToLower(cell(row, status)),
		}
		if c.Code == "" && c.Display == "" {
			continue
		}
		if c.Code == "" || c.Display == "" {
			return nil, fmt.Errorf("row %d: code and english name are required", n+2)
		}
		if p := cell(row, parent); p != "" {
			c.ParentCodes = strings.Split(p, ";")
		}
		if v := traditionalSystem(cell(row, tradition)); v != "" {
			c.Properties = append(c.Properties, codesystem.Property{Name: "traditional_system", Type: codesystem.PropertyCode, Value: v})
		}
		for _, p := range []struct {
			name string
			col  int
		}{{"local_name", local}, {"category", category}, {"indication", indication}} {
			if v := cell(row, p.col); v != "" {
				c.Properties = append(c.Properties, codesystem.Property{Name: p.name, Value: v})
			}
		}
		out = append(out, c)
	}
	return out, nil
}

// traditionalSystem normalizes the spelling variants found in NAMASTE
// releases.
func traditionalSystem(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return ""
	case "ayurveda", "ayurved":
		return "ayurveda"
	case "siddha":
		return "siddha"
	case "unani":
		return "unani"
	case "yoga":
		return "yoga"
	case "homeopathy", "homoeopathy":
		return "homeopathy"
	case "sowa-rigpa", "sowa rigpa":
		return "sowa_rigpa"
	default:
		return "other"
	}
}

func (s *NamasteSheetSource) mappings(rows [][]string) (conceptmap.ConceptMap, error) {
	cm := conceptmap.ConceptMap{
		ID:           "namaste-spreadsheet",
		URL:          "https://ayush.gov.in/fhir/ConceptMap/namaste-spreadsheet",
		Name:         "NAMASTESpreadsheetMappings",
		Version:      s.version,
		SourceSystem: s.systemURL,
	}
	if len(rows) < 2 {
		return cm, nil
	}
	h := newHeader(rows[0])
	source, targetSys, target := h.index(colSource), h.index(colTargetSys), h.index(colTarget)
	eq, conf, comment := h.index(colEquivalent), h.index(colConfidence), h.index(colComment)
	if source < 0 || targetSys < 0 || target < 0 || eq < 0 {
		return cm, fmt.Errorf("%s header must name source code, target system, target code and equivalence", MappingsSheet)
	}

	for n, row := range rows[1:] {
		if cell(row, source) == "" {
			continue
		}
		grade, err := conceptmap.ParseEquivalence(cell(row, eq))
		if err != nil {
			return cm, fmt.Errorf("%s row %d: %w", MappingsSheet, n+2, err)
		}
		entry := conceptmap.MappingEntry{
			SourceSystem: s.systemURL,
			SourceCode:   cell(row, source),
			TargetSystem: cell(row, targetSys),
			TargetCode:   cell(row, target),
			Equivalence:  grade,
			Comment:      cell(row, comment),
		}
		if raw := cell(row, conf); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return cm, fmt.Errorf("%s row %d: confidence %q: %w", MappingsSheet, n+2, raw, err)
			}
			entry.Confidence = &v
		}
		if cm.TargetSystem == "" {
			cm.TargetSystem = entry.TargetSystem
		}
		cm.Entries = append(cm.Entries, entry)
	}
	return cm, nil
}
