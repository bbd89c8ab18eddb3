package cache

import (
	"cmp"
	"context"
	"fmt"
	"slices"
)

// FrequencySource supplies the most frequent ids for a kind. *Cache is one;
// tests substitute their own.
type FrequencySource interface {
	MostFrequent(ctx context.Context, kind Kind, limit int) ([]string, error)
}

// Identifiable is anything carrying the item id usage is tracked under.
type Identifiable interface {
	ID() string
}

// MostFrequent returns up to limit item ids of kind, most used first. Equal
// counts are ordered by most recent use.
func (c *Cache) MostFrequent(ctx context.Context, kind Kind, limit int) ([]string, error) {
	const op = "most frequent"
	if !kind.Valid() {
		return nil, serialization(op, fmt.Errorf("invalid kind %v", kind))
	}
	db, err := c.handle(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []string{}, nil
	}

	query := `
	SELECT item_id FROM frequency
	WHERE kind = ?
	ORDER BY count DESC, last_used DESC, item_id ASC
	LIMIT ?
	`
	rows, err := db.QueryContext(ctx, query, kind.String(), limit)
	if err != nil {
		return nil, txFailed(op, err)
	}
	defer rows.Close()

	// limit comes straight from callers, so it never sizes an allocation.
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, serialization(op, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, txFailed(op, err)
	}
	return ids, nil
}

// Recent returns up to limit distinct item ids of kind, most recently used
// first. The log is walked newest to oldest and only each id's newest
// occurrence is kept.
func (c *Cache) Recent(ctx context.Context, kind Kind, limit int) ([]string, error) {
	const op = "recent"
	if !kind.Valid() {
		return nil, serialization(op, fmt.Errorf("invalid kind %v", kind))
	}
	db, err := c.handle(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []string{}, nil
	}

	query := `
	SELECT item_id FROM recency
	WHERE kind = ?
	ORDER BY timestamp DESC, id DESC
	`
	rows, err := db.QueryContext(ctx, query, kind.String())
	if err != nil {
		return nil, txFailed(op, err)
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	ids := []string{}
	for len(ids) < limit && rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, serialization(op, err)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, txFailed(op, err)
	}
	return ids, nil
}

// SortByFrequency returns a copy of items ordered by how often their ids were
// used. See SortByFrequencyFunc.
func SortByFrequency[T Identifiable](ctx context.Context, src FrequencySource, items []T, kind Kind) ([]T, error) {
	return SortByFrequencyFunc(ctx, src, items, kind, func(item T) string {
		return item.ID()
	})
}

// SortByFrequencyFunc returns a copy of items stably sorted by the rank of
// id(item) among the top frequent ids of kind. Items outside that window keep
// their input order and follow every ranked item.
func SortByFrequencyFunc[T any](ctx context.Context, src FrequencySource, items []T, kind Kind, id func(T) string) ([]T, error) {
	top, err := src.MostFrequent(ctx, kind, rankWindow)
	if err != nil {
		return nil, err
	}

	ranks := make(map[string]int, len(top))
	for i, itemID := range top {
		ranks[itemID] = i
	}
	rankOf := func(item T) int {
		if r, ok := ranks[id(item)]; ok {
			return r
		}
		return len(top)
	}

	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, func(a, b T) int {
		return cmp.Compare(rankOf(a), rankOf(b))
	})
	return sorted, nil
}

// Stats reports record and event counts for every kind.
func (c *Cache) Stats(ctx context.Context) ([]KindStats, error) {
	const op = "stats"
	db, err := c.handle(ctx)
	if err != nil {
		return nil, err
	}

	byKind := make(map[Kind]*KindStats)
	stats := make([]KindStats, 0, len(kindNames))
	for _, k := range Kinds() {
		stats = append(stats, KindStats{Kind: k})
	}
	for i := range stats {
		byKind[stats[i].Kind] = &stats[i]
	}

	count := func(query string, field func(*KindStats) *int64) error {
		rows, err := db.QueryContext(ctx, query)
		if err != nil {
			return txFailed(op, err)
		}
		defer rows.Close()

		for rows.Next() {
			var name string
			var n int64
			if err := rows.Scan(&name, &n); err != nil {
				return serialization(op, err)
			}
			k, err := ParseKind(name)
			if err != nil {
				return serialization(op, err)
			}
			*field(byKind[k]) = n
		}
		if err := rows.Err(); err != nil {
			return txFailed(op, err)
		}
		return nil
	}

	if err := count(`SELECT kind, COUNT(*) FROM frequency GROUP BY kind`, func(s *KindStats) *int64 { return &s.Records }); err != nil {
		return nil, err
	}
	if err := count(`SELECT kind, COUNT(*) FROM recency GROUP BY kind`, func(s *KindStats) *int64 { return &s.Events }); err != nil {
		return nil, err
	}
	return stats, nil
}
