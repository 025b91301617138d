package codesystem

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ayushbridge/bridge/internal/platform/db"
)

type codeSystemRepoPG struct{ q db.Querier }

func NewCodeSystemRepoPG(q db.Querier) Repository {
	return &codeSystemRepoPG{q: q}
}

func (r *codeSystemRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.q)
}

func (r *codeSystemRepoPG) ListSystems(ctx context.Context) ([]CodingSystem, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT id, url, COALESCE(version,''), COALESCE(name,''), COALESCE(title,''), COALESCE(publisher,'')
		 FROM coding_system ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("list coding systems: %w", err)
	}
	defer rows.Close()
	var systems []CodingSystem
	for rows.Next() {
		var cs CodingSystem
		if err := rows.Scan(&cs.ID, &cs.URL, &cs.Version, &cs.Name, &cs.Title, &cs.Publisher); err != nil {
			return nil, err
		}
		systems = append(systems, cs)
	}
	return systems, rows.Err()
}

func (r *codeSystemRepoPG) ListConcepts(ctx context.Context) ([]Concept, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT system_url, system_version, code, display, COALESCE(definition,''), status,
		        parent_codes, properties
		 FROM concept ORDER BY system_url, system_version, code`)
	if err != nil {
		return nil, fmt.Errorf("list concepts: %w", err)
	}
	defer rows.Close()
	var concepts []Concept
	for rows.Next() {
		var (
			c     Concept
			props []byte
		)
		if err := rows.Scan(&c.System, &c.Version, &c.Code, &c.Display, &c.Definition, &c.Status,
			&c.ParentCodes, &props); err != nil {
			return nil, err
		}
		if len(props) > 0 {
			if err := json.Unmarshal(props, &c.Properties); err != nil {
				return nil, fmt.Errorf("concept %s|%s properties: %w", c.System, c.Code, err)
			}
		}
		concepts = append(concepts, c)
	}
	return concepts, rows.Err()
}

func (r *codeSystemRepoPG) Replace(ctx context.Context, systems []CodingSystem, concepts []Concept) error {
	conn := r.conn(ctx)
	if _, err := conn.Exec(ctx, `DELETE FROM coding_system`); err != nil {
		return fmt.Errorf("clear coding systems: %w", err)
	}
	for _, cs := range systems {
		_, err := conn.Exec(ctx, `
			INSERT INTO coding_system (id, url, version, name, title, publisher)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			cs.ID, cs.URL, cs.Version, cs.Name, cs.Title, cs.Publisher)
		if err != nil {
			return fmt.Errorf("insert coding system %s: %w", cs.Canonical(), err)
		}
	}
	for _, c := range concepts {
		props, err := json.Marshal(c.Properties)
		if err != nil {
			return err
		}
		parents := c.ParentCodes
		if parents == nil {
			parents = []string{}
		}
		_, err = conn.Exec(ctx, `
			INSERT INTO concept (system_url, system_version, code, display, definition, status, parent_codes, properties)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			c.System, c.Version, c.Code, c.Display, c.Definition, c.Status, parents, props)
		if err != nil {
			return fmt.Errorf("insert concept %s|%s: %w", c.System, c.Code, err)
		}
	}
	return nil
}
