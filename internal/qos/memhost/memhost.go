// Package memhost is cmd/qosdemo's stand-in for the real database host: an
// in-memory implementation of the host.CatalogReader/CatalogWriter,
// host.SessionIdentity, and host.PlanNode/PlanTree interfaces, so the
// governor core can run end to end without a real server behind it.
package memhost

import (
	"fmt"
	"sync"

	"github.com/appstonia/qosgov/internal/qos/host"
)

// Catalog is a concurrency-safe, in-memory (setdatabase, setrole) ->
// config[] table (§4.2, §6). The real host's catalog lives in shared
// memory and is read/written under its own, much finer-grained locking;
// this stand-in uses a single RWMutex since it only ever serves a
// single-process demo.
type Catalog struct {
	mu           sync.RWMutex
	roleRows     map[host.ID]host.ConfigRow
	databaseRows map[host.ID]host.ConfigRow
	roleInDBRows map[roleDBKey]host.ConfigRow
}

type roleDBKey struct{ role, database host.ID }

// NewCatalog constructs an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		roleRows:     make(map[host.ID]host.ConfigRow),
		databaseRows: make(map[host.ID]host.ConfigRow),
		roleInDBRows: make(map[roleDBKey]host.ConfigRow),
	}
}

// SeedRole installs or replaces the role-only scoped row for role.
func (c *Catalog) SeedRole(role host.ID, entries []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roleRows[role] = host.ConfigRow{Role: role, Entries: entries}
}

// SeedDatabase installs or replaces the database-only scoped row for database.
func (c *Catalog) SeedDatabase(database host.ID, entries []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.databaseRows[database] = host.ConfigRow{Database: database, Entries: entries}
}

// SeedRoleInDatabase installs or replaces the role-in-database scoped row.
func (c *Catalog) SeedRoleInDatabase(role, database host.ID, entries []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roleInDBRows[roleDBKey{role, database}] = host.ConfigRow{Role: role, Database: database, Entries: entries}
}

// RoleRow implements host.CatalogReader.
func (c *Catalog) RoleRow(role host.ID) (host.ConfigRow, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	row, ok := c.roleRows[role]
	return row, ok
}

// DatabaseRow implements host.CatalogReader.
func (c *Catalog) DatabaseRow(database host.ID) (host.ConfigRow, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	row, ok := c.databaseRows[database]
	return row, ok
}

// RoleInDatabaseRow implements host.CatalogReader.
func (c *Catalog) RoleInDatabaseRow(role, database host.ID) (host.ConfigRow, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	row, ok := c.roleInDBRows[roleDBKey{role, database}]
	return row, ok
}

// PersistSet implements host.CatalogWriter: ALTER ROLE/DATABASE ... SET
// qos.* (§2, §4.8). Name == "RESET ALL" clears every qos.* entry at that
// scope; otherwise the named entry is upserted (replacing a prior value
// for the same name, appending otherwise).
func (c *Catalog) PersistSet(stmt host.UtilityStatement) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch stmt.Kind {
	case host.UtilityAlterRoleSet:
		row := c.roleRows[stmt.Role]
		row.Role = stmt.Role
		row.Entries = applySet(row.Entries, stmt.Name, stmt.Value)
		c.roleRows[stmt.Role] = row
	case host.UtilityAlterDatabaseSet:
		row := c.databaseRows[stmt.Database]
		row.Database = stmt.Database
		row.Entries = applySet(row.Entries, stmt.Name, stmt.Value)
		c.databaseRows[stmt.Database] = row
	default:
		return fmt.Errorf("memhost: PersistSet: unsupported statement kind %v", stmt.Kind)
	}
	return nil
}

// applySet upserts "name=value" into entries, or drops every qos.* entry
// if name is the "RESET ALL" sentinel (§4.8).
func applySet(entries []string, name, value string) []string {
	if name == "RESET ALL" {
		out := entries[:0:0]
		for _, e := range entries {
			if !hasQoSPrefix(e) {
				out = append(out, e)
			}
		}
		return out
	}

	want := name + "="
	for i, e := range entries {
		if len(e) >= len(want) && e[:len(want)] == want {
			entries[i] = name + "=" + value
			return entries
		}
	}
	return append(entries, name+"="+value)
}

func hasQoSPrefix(entry string) bool {
	const prefix = "qos."
	return len(entry) >= len(prefix) && entry[:len(prefix)] == prefix
}

// Identity implements host.SessionIdentity for one demo session. Role and
// Database are fixed at connect time, matching the real host's contract
// that a session's identity does not change mid-connection (only the
// catalog rows governing it can).
type Identity struct {
	Role     host.ID
	Database host.ID
}

func (i Identity) CurrentRole() host.ID     { return i.Role }
func (i Identity) CurrentDatabase() host.ID { return i.Database }

// Node is an in-memory host.PlanNode.
type Node struct {
	NodeKind   host.PlanNodeKind
	Workers    int
	LeftChild  *Node
	RightChild *Node
}

func (n *Node) Kind() host.PlanNodeKind { return n.NodeKind }
func (n *Node) NumWorkers() int         { return n.Workers }
func (n *Node) SetNumWorkers(w int)     { n.Workers = w }
func (n *Node) Left() host.PlanNode {
	if n.LeftChild == nil {
		return nil
	}
	return n.LeftChild
}
func (n *Node) Right() host.PlanNode {
	if n.RightChild == nil {
		return nil
	}
	return n.RightChild
}

// Tree is an in-memory host.PlanTree.
type Tree struct {
	RootNode *Node
	SubTrees []*Tree
}

func (t *Tree) Root() host.PlanNode { return t.RootNode }
func (t *Tree) Subplans() []host.PlanTree {
	if len(t.SubTrees) == 0 {
		return nil
	}
	out := make([]host.PlanTree, len(t.SubTrees))
	for i, s := range t.SubTrees {
		out[i] = s
	}
	return out
}

var (
	_ host.CatalogReader   = (*Catalog)(nil)
	_ host.CatalogWriter   = (*Catalog)(nil)
	_ host.SessionIdentity = Identity{}
	_ host.PlanNode        = (*Node)(nil)
	_ host.PlanTree        = (*Tree)(nil)
)
