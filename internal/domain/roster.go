package domain

// Membership tells whether a roster entry reflects live transport state or a
// recently departed identity kept around for the grace window.
type Membership int

const (
	MemberLive Membership = iota
	MemberGrace
)

func (m Membership) String() string {
	if m == MemberGrace {
		return "grace"
	}
	return "live"
}

// RosterEntry is a derived view row. Entries in MemberGrace are retained
// copies and never authoritative for muting or capability decisions.
type RosterEntry struct {
	Identity    Identity
	DisplayName string
	Role        Role
	Membership  Membership
	IsLocal     bool
	IsMuted     bool
}
