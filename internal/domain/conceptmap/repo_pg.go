package conceptmap

import (
	"context"
	"fmt"

	"github.com/ayushbridge/bridge/internal/platform/db"
)

type conceptMapRepoPG struct{ q db.Querier }

func NewConceptMapRepoPG(q db.Querier) Repository {
	return &conceptMapRepoPG{q: q}
}

func (r *conceptMapRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.q)
}

func (r *conceptMapRepoPG) List(ctx context.Context) ([]ConceptMap, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT id, url, COALESCE(name,''), COALESCE(version,''), source_system, target_system
		 FROM concept_map ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("list concept maps: %w", err)
	}
	defer rows.Close()

	var maps []ConceptMap
	pos := make(map[string]int)
	for rows.Next() {
		var cm ConceptMap
		if err := rows.Scan(&cm.ID, &cm.URL, &cm.Name, &cm.Version, &cm.SourceSystem, &cm.TargetSystem); err != nil {
			return nil, err
		}
		pos[cm.ID] = len(maps)
		maps = append(maps, cm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	entries, err := r.conn(ctx).Query(ctx,
		`SELECT map_id, source_system, source_code, target_system, target_code,
		        equivalence, confidence, COALESCE(comment,'')
		 FROM concept_map_entry ORDER BY map_id, id`)
	if err != nil {
		return nil, fmt.Errorf("list concept map entries: %w", err)
	}
	defer entries.Close()
	for entries.Next() {
		var (
			mapID string
			e     MappingEntry
			eq    string
		)
		if err := entries.Scan(&mapID, &e.SourceSystem, &e.SourceCode, &e.TargetSystem, &e.TargetCode,
			&eq, &e.Confidence, &e.Comment); err != nil {
			return nil, err
		}
		if e.Equivalence, err = ParseEquivalence(eq); err != nil {
			return nil, fmt.Errorf("concept map %s: %w", mapID, err)
		}
		i, ok := pos[mapID]
		if !ok {
			continue
		}
		maps[i].Entries = append(maps[i].Entries, e)
	}
	return maps, entries.Err()
}

func (r *conceptMapRepoPG) Replace(ctx context.Context, maps []ConceptMap) error {
	conn := r.conn(ctx)
	if _, err := conn.Exec(ctx, `DELETE FROM concept_map`); err != nil {
		return fmt.Errorf("clear concept maps: %w", err)
	}
	for _, cm := range maps {
		_, err := conn.Exec(ctx, `
			INSERT INTO concept_map (id, url, name, version, source_system, target_system)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			cm.ID, cm.URL, cm.Name, cm.Version, cm.SourceSystem, cm.TargetSystem)
		if err != nil {
			return fmt.Errorf("insert concept map %s: %w", cm.URL, err)
		}
		for _, e := range cm.Entries {
			_, err := conn.Exec(ctx, `
				INSERT INTO concept_map_entry (map_id, source_system, source_code, target_system, target_code,
					equivalence, confidence, comment)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
				cm.ID, e.SourceSystem, e.SourceCode, e.TargetSystem, e.TargetCode,
				string(e.Equivalence), e.Confidence, e.Comment)
			if err != nil {
				return fmt.Errorf("insert mapping %s|%s: %w", e.SourceSystem, e.SourceCode, err)
			}
		}
	}
	return nil
}
