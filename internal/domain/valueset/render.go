package valueset

import "time"

// ToFHIR renders the expansion as a ValueSet resource with an expansion
// element. Concept properties appear as contains[].property.
func (e *Expansion) ToFHIR(def *Definition) map[string]interface{} {
	result := map[string]interface{}{
		"resourceType": "ValueSet",
		"status":       "active",
	}
	if def != nil {
		if def.ID != "" {
			result["id"] = def.ID
		}
		if def.URL != "" {
			result["url"] = def.URL
		}
		if def.Version != "" {
			result["version"] = def.Version
		}
		if def.Name != "" {
			result["name"] = def.Name
		}
		if def.Title != "" {
			result["title"] = def.Title
		}
	}

	params := []map[string]interface{}{
		{"name": "count", "valueInteger": e.Count},
		{"name": "offset", "valueInteger": e.Offset},
	}
	if e.Filter != "" {
		params = append(params, map[string]interface{}{"name": "filter", "valueString": e.Filter})
	}

	expansion := map[string]interface{}{
		"identifier": "urn:uuid:" + e.Identifier,
		"timestamp":  e.Timestamp.Format(time.RFC3339),
		"total":      e.Total,
		"offset":     e.Offset,
		"parameter":  params,
		"contains":   containsToFHIR(e.Contains),
	}
	result["expansion"] = expansion
	return result
}

func containsToFHIR(items []Contains) []interface{} {
	result := make([]interface{}, 0, len(items))
	for _, item := range items {
		entry := map[string]interface{}{
			"system": item.System,
			"code":   item.Code,
		}
		if item.Version != "" {
			entry["version"] = item.Version
		}
		if item.Display != "" {
			entry["display"] = item.Display
		}
		if item.Inactive {
			entry["inactive"] = true
		}
		if item.Properties != nil {
			props := make([]map[string]interface{}, 0, len(item.Properties))
			for _, p := range item.Properties {
				key, value := p.FHIRValue()
				props = append(props, map[string]interface{}{"code": p.Name, key: value})
			}
			entry["property"] = props
		}
		result = append(result, entry)
	}
	return result
}
