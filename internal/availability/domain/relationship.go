package domain

// RelationshipKind classifies how a pending invitation or shared active
// session links exactly two users.
type RelationshipKind int

const (
	// RelationshipNone indicates no link between the pair.
	RelationshipNone RelationshipKind = iota
	// RelationshipInvitationPending indicates a pending invitation links the
	// pair in either direction.
	RelationshipInvitationPending
	// RelationshipSessionShared indicates an active session shared between
	// the pair links them.
	RelationshipSessionShared
)

// RelationshipSnapshot is the derived, unstored result of evaluating whether
// a direct relationship links two users. It decides both invitation
// eligibility and the viewer-specific availability label.
type RelationshipSnapshot struct {
	Kind RelationshipKind
	// InvitationID identifies the linking invitation when Kind is
	// RelationshipInvitationPending.
	InvitationID string
	// SessionID identifies the linking session when Kind is
	// RelationshipSessionShared.
	SessionID string
	// SubjectIsSender is true when the first user of the evaluated pair sent
	// the linking invitation or owns the linking session.
	SubjectIsSender bool
}

// Linked reports whether any direct relationship exists.
func (r RelationshipSnapshot) Linked() bool {
	return r.Kind != RelationshipNone
}
