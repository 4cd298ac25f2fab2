// Package config loads cmd/qosdemo's TOML fixture: the roles, databases,
// and qos.* catalog entries a demo run starts from, plus the scenario
// script it replays. The governor core itself takes no file-based
// configuration (SPEC_FULL.md §[FULL-2.1]: "the core itself is configured
// purely through the catalog, §6") -- this package exists only for the
// demo harness in cmd/qosdemo.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// RoleRow is one role-scoped or role-in-database-scoped catalog row in the
// fixture file.
type RoleRow struct {
	Role     string   `toml:"role"`
	Database string   `toml:"database,omitempty"` // used in role_in_database rows; ignored in roles rows
	Entries  []string `toml:"entries"`
}

// DatabaseRow is one database-scoped catalog row in the fixture file.
type DatabaseRow struct {
	Database string   `toml:"database"`
	Entries  []string `toml:"entries"`
}

// Step is one line of the scenario script cmd/qosdemo replays: "as role R
// connected to database D, do Action". Action is one of the verbs
// cmd/qosdemo's runner recognizes (select, update, delete, insert,
// prepare, execute, release, abort, invalidate_role, invalidate_database,
// relcache_invalidate, alter_role_set, alter_database_set, set_work_mem,
// explain, reset_stats, get_stats).
type Step struct {
	Session  string `toml:"session"`
	Role     string `toml:"role"`
	Database string `toml:"database"`
	Action   string `toml:"action"`
	Name     string `toml:"name,omitempty"`
	Value    string `toml:"value,omitempty"`
}

// Fixture is the complete demo harness input: the initial catalog state
// plus the scenario script to run against it.
type Fixture struct {
	MaxBackends int `toml:"max_backends"`

	Roles          []RoleRow     `toml:"roles"`
	Databases      []DatabaseRow `toml:"databases"`
	RoleInDatabase []RoleRow     `toml:"role_in_database"`

	Scenario []Step `toml:"scenario"`
}

// Load decodes a fixture from path.
func Load(path string) (*Fixture, error) {
	var f Fixture
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("config: load fixture %q: %w", path, err)
	}
	if f.MaxBackends <= 0 {
		f.MaxBackends = 16
	}
	return &f, nil
}
