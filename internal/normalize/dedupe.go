package normalize

// dedupeKeyed collapses duplicate rows within one CSV to the last occurrence,
// matching upsert semantics. First-occurrence order is preserved.
func dedupeKeyed[T any](rows []T, key func(T) string) []T {
	if len(rows) < 2 {
		return rows
	}
	seen := make(map[string]int, len(rows))
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		k := key(row)
		if at, dup := seen[k]; dup {
			out[at] = row
			continue
		}
		seen[k] = len(out)
		out = append(out, row)
	}
	return out
}
