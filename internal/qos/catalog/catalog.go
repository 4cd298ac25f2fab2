// Package catalog implements C2: turning raw "name=value" catalog rows
// into a Limits struct, for each of the three scoped queries of §4.2.
package catalog

import (
	"strings"

	"github.com/appstonia/qosgov/internal/qos/host"
	"github.com/appstonia/qosgov/internal/qos/limits"
	"github.com/rs/zerolog"
)

// Reader wraps a host.CatalogReader, decoding rows into Limits values. It
// holds no state of its own and does no mutation -- every method is a pure
// read-through of the host catalog, matching §4.2's "no mutation"
// requirement.
type Reader struct {
	Catalog host.CatalogReader
	Log     zerolog.Logger
}

// NewReader constructs a Reader. log may be the zero Logger (writes
// nowhere), matching the teacher's Discard-logger pattern for callers that
// don't care about qos: debug lines.
func NewReader(catalog host.CatalogReader, log zerolog.Logger) *Reader {
	return &Reader{Catalog: catalog, Log: log}
}

// LimitsForRole implements limits_for_role (§4.2): filter setdatabase =
// none, setrole = role_id.
func (r *Reader) LimitsForRole(role host.ID) limits.Limits {
	row, ok := r.Catalog.RoleRow(role)
	if !ok {
		return limits.Empty()
	}
	return r.decode(row)
}

// LimitsForDatabase implements limits_for_database (§4.2): filter
// setdatabase = db_id, setrole = none.
func (r *Reader) LimitsForDatabase(database host.ID) limits.Limits {
	row, ok := r.Catalog.DatabaseRow(database)
	if !ok {
		return limits.Empty()
	}
	return r.decode(row)
}

// LimitsForRoleInDatabase implements limits_for_role_in_database (§4.2):
// filter both setdatabase = db_id and setrole = role_id.
func (r *Reader) LimitsForRoleInDatabase(role, database host.ID) limits.Limits {
	row, ok := r.Catalog.RoleInDatabaseRow(role, database)
	if !ok {
		return limits.Empty()
	}
	return r.decode(row)
}

// decode iterates row's "name=value" entries, trimming whitespace around
// both halves, ignoring non-qos.* names, and applying the rest with
// ApplyValue(strict=false) into a fresh Limits -- malformed qos.* entries
// are dropped (logged at debug level) but scanning continues (§4.1, §4.2).
func (r *Reader) decode(row host.ConfigRow) limits.Limits {
	l := limits.Empty()
	for _, entry := range row.Entries {
		name, value, err := limits.ParseEntry(entry)
		if err != nil {
			r.Log.Debug().Str("entry", entry).Err(err).Msg("qos: dropping malformed catalog entry")
			continue
		}
		if !strings.HasPrefix(name, limits.Prefix) {
			continue
		}
		if err := limits.ApplyValue(&l, name, value, false); err != nil {
			r.Log.Debug().Str("name", name).Str("value", value).Err(err).Msg("qos: dropping malformed qos.* entry")
			continue
		}
	}
	return l
}
