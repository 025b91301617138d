package conceptmap

import "github.com/ayushbridge/bridge/internal/domain/codesystem"

// chain composes two forward hops source -> intermediate -> target for
// systems that are only connected through a third one, e.g. a NAMASTE code
// reaching ICD-11 Biomedicine through TM2.
func (t *Translator) chain(maps []*mapIndex, source *codesystem.Concept, target string) []Match {
	var out []Match
	for _, first := range maps {
		for _, hop := range first.forward[entryKey(source.System, source.Code)] {
			if hop.TargetSystem == target || hop.TargetSystem == source.System {
				continue
			}
			via := &Via{
				System:  hop.TargetSystem,
				Code:    hop.TargetCode,
				Display: t.display(hop.TargetSystem, hop.TargetCode),
				Source:  first.cm.URL,
			}
			for _, second := range maps {
				for _, e := range second.forward[entryKey(hop.TargetSystem, hop.TargetCode)] {
					if e.TargetSystem != target {
						continue
					}
					out = append(out, Match{
						TargetSystem:  e.TargetSystem,
						TargetCode:    e.TargetCode,
						TargetDisplay: t.display(e.TargetSystem, e.TargetCode),
						Equivalence:   Combine(hop.Equivalence, e.Equivalence),
						Confidence:    product(hop.Confidence, e.Confidence),
						Comment:       e.Comment,
						Source:        second.cm.URL,
						Via:           via,
					})
				}
			}
		}
	}
	return out
}

// product multiplies two confidences. Either being unscored leaves the
// chain unscored.
func product(a, b *float64) *float64 {
	if a == nil || b == nil {
		return nil
	}
	v := *a * *b
	return &v
}
