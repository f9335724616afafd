package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
)

// refCache maps zone and interface names to their surrogate ids. Shared across
// jobs; read-through on miss.
type refCache struct {
	mu         sync.RWMutex
	zones      map[string]int64
	interfaces map[string]int64
}

func newRefCache() *refCache {
	return &refCache{
		zones:      make(map[string]int64),
		interfaces: make(map[string]int64),
	}
}

func (c *refCache) get(table, name string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byTable(table)[name]
	return id, ok
}

func (c *refCache) put(table, name string, id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byTable(table)[name] = id
}

func (c *refCache) byTable(table string) map[string]int64 {
	if table == "interfaces" {
		return c.interfaces
	}
	return c.zones
}

// RefResolver interns names inside one job transaction. Ids minted in the
// transaction stay pending until Commit so a rollback never poisons the shared
// cache.
type RefResolver struct {
	tx      *sqlx.Tx
	cache   *refCache
	driver  string
	pending map[string]map[string]int64 // table -> name -> id
}

// Refs returns a resolver bound to tx.
func (s *Store) Refs(tx *sqlx.Tx) *RefResolver {
	return &RefResolver{
		tx:      tx,
		cache:   s.refs,
		driver:  s.driver,
		pending: map[string]map[string]int64{"zones": {}, "interfaces": {}},
	}
}

// ZoneID interns a zone name.
func (r *RefResolver) ZoneID(ctx context.Context, name string) (int64, error) {
	return r.resolve(ctx, "zones", name)
}

// InterfaceID interns an interface name.
func (r *RefResolver) InterfaceID(ctx context.Context, name string) (int64, error) {
	return r.resolve(ctx, "interfaces", name)
}

func (r *RefResolver) resolve(ctx context.Context, table, name string) (int64, error) {
	if id, ok := r.pending[table][name]; ok {
		return id, nil
	}
	if id, ok := r.cache.get(table, name); ok {
		return id, nil
	}

	var id int64
	query := r.tx.Rebind(fmt.Sprintf(`SELECT id FROM %s WHERE name = ?`, table))
	err := r.tx.GetContext(ctx, &id, query, name)
	if err == nil {
		r.pending[table][name] = id
		return id, nil
	}

	id, err = r.insert(ctx, table, name)
	if err != nil {
		if isUniqueViolation(err) {
			// Another connection interned it first; re-read.
			if err := r.tx.GetContext(ctx, &id, query, name); err != nil {
				return 0, fmt.Errorf("failed to re-read %s %q: %w", table, name, err)
			}
			r.pending[table][name] = id
			return id, nil
		}
		return 0, fmt.Errorf("failed to intern %s %q: %w", table, name, err)
	}

	r.pending[table][name] = id
	return id, nil
}

func (r *RefResolver) insert(ctx context.Context, table, name string) (int64, error) {
	if r.driver == "postgres" {
		var id int64
		query := fmt.Sprintf(`INSERT INTO %s (name) VALUES ($1) RETURNING id`, table)
		if err := r.tx.GetContext(ctx, &id, query, name); err != nil {
			return 0, err
		}
		return id, nil
	}

	res, err := r.tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (name) VALUES (?)`, table), name)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Commit merges the transaction's pending ids into the shared cache. Call only
// after the transaction itself committed.
func (r *RefResolver) Commit() {
	for table, names := range r.pending {
		for name, id := range names {
			r.cache.put(table, name, id)
		}
	}
}
