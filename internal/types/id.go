// README: Identifier type shared by all modules.
package types

import (
	"strings"

	"github.com/google/uuid"
)

type ID string

// NewID returns a 32 character hex identifier.
func NewID() ID {
	return ID(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func (id ID) String() string { return string(id) }

// UniqueIDs returns ids with duplicates and empty values removed, keeping first-seen order.
func UniqueIDs(ids []ID) []ID {
	seen := make(map[ID]struct{}, len(ids))
	out := make([]ID, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// IDStrings converts ids for driver parameters such as Postgres text[].
func IDStrings(ids []ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
