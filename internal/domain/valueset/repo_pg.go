package valueset

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ayushbridge/bridge/internal/platform/db"
)

type valueSetRepoPG struct{ q db.Querier }

func NewValueSetRepoPG(q db.Querier) Repository {
	return &valueSetRepoPG{q: q}
}

func (r *valueSetRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.q)
}

// compose is the JSONB shape of the include and exclude lists.
type compose struct {
	Include []Include `json:"include"`
	Exclude []Exclude `json:"exclude,omitempty"`
}

func (r *valueSetRepoPG) List(ctx context.Context) ([]Definition, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT id, COALESCE(url,''), COALESCE(name,''), COALESCE(title,''), COALESCE(version,''),
		        compose, COALESCE(filter,''), active_only, rank_by_relevance
		 FROM value_set ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("list value sets: %w", err)
	}
	defer rows.Close()
	var defs []Definition
	for rows.Next() {
		var (
			d   Definition
			raw []byte
		)
		if err := rows.Scan(&d.ID, &d.URL, &d.Name, &d.Title, &d.Version, &raw, &d.Filter,
			&d.ActiveOnly, &d.RankByRelevance); err != nil {
			return nil, err
		}
		var c compose
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("value set %s compose: %w", d.ID, err)
		}
		d.Include, d.Exclude = c.Include, c.Exclude
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

func (r *valueSetRepoPG) Replace(ctx context.Context, defs []Definition) error {
	conn := r.conn(ctx)
	if _, err := conn.Exec(ctx, `DELETE FROM value_set`); err != nil {
		return fmt.Errorf("clear value sets: %w", err)
	}
	for _, d := range defs {
		raw, err := json.Marshal(compose{Include: d.Include, Exclude: d.Exclude})
		if err != nil {
			return err
		}
		_, err = conn.Exec(ctx, `
			INSERT INTO value_set (id, url, name, title, version, compose, filter, active_only, rank_by_relevance)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			d.ID, d.URL, d.Name, d.Title, d.Version, raw, d.Filter, d.ActiveOnly, d.RankByRelevance)
		if err != nil {
			return fmt.Errorf("insert value set %s: %w", d.ID, err)
		}
	}
	return nil
}
