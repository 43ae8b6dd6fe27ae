package models

import (
	"time"

	"gorm.io/gorm"
)

// InterestEdge is a directed "from likes to" fact. The composite primary key
// makes recording the same edge twice a no-op.
type InterestEdge struct {
	FromID    string    `gorm:"primaryKey;size:64" json:"from"`
	ToID      string    `gorm:"primaryKey;size:64;index" json:"to"`
	CreatedAt time.Time `json:"createdAt"`
}

// Match is the undirected pairing created once both interest edges exist.
// UserA is always the lexicographically smaller identity.
type Match struct {
	// ID is a ULID assigned on creation.
	ID string `gorm:"primaryKey;size:26" json:"id"`
	// UserA and UserB form the canonical pair; the unique index guarantees
	// a single match per pair.
	UserA     string    `gorm:"size:64;not null;uniqueIndex:idx_match_pair" json:"userA"`
	UserB     string    `gorm:"size:64;not null;uniqueIndex:idx_match_pair;index" json:"userB"`
	CreatedAt time.Time `json:"createdAt"`
	// NotifiedAt is set once match:created has been pushed to both users.
	NotifiedAt *time.Time `json:"-"`
}

// BeforeCreate assigns a ULID when none was set.
func (m *Match) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID = NewID(m.CreatedAt)
	}
	return
}

// Other returns the identity on the other side of the match.
func (m *Match) Other(identity string) string {
	if identity == m.UserA {
		return m.UserB
	}
	return m.UserA
}

// CanonicalPair orders two identities so that a < b.
func CanonicalPair(x, y string) (a, b string) {
	if x < y {
		return x, y
	}
	return y, x
}

// PairKey is the canonical "min|max" key for an unordered pair.
func PairKey(x, y string) string {
	a, b := CanonicalPair(x, y)
	return a + "|" + b
}
