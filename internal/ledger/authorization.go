// Package ledger holds the per-session membership sets the registry consults:
// who may review a session and who already has.
package ledger

import "github.com/mewiskl/zama-Talklet-Review/internal/model"

// AuthorizationSet is the gate on review submission. A public set admits
// every caller; its member list is still recorded.
type AuthorizationSet struct {
	public  bool
	members map[model.Address]struct{}
	order   []model.Address
}

// NewAuthorizationSet seeds the set. An empty initial list makes it public
// for the lifetime of the session.
func NewAuthorizationSet(initial []model.Address) *AuthorizationSet {
	s := &AuthorizationSet{
		public:  len(initial) == 0,
		members: make(map[model.Address]struct{}, len(initial)),
	}
	s.Authorize(initial)
	return s
}

// RestoreAuthorizationSet rebuilds a set from persisted state.
func RestoreAuthorizationSet(public bool, members []model.Address) *AuthorizationSet {
	s := &AuthorizationSet{public: public, members: make(map[model.Address]struct{}, len(members))}
	s.Authorize(members)
	return s
}

// Authorize adds addrs, ignoring ones already present. It returns the
// addresses that were newly added, in input order.
func (s *AuthorizationSet) Authorize(addrs []model.Address) []model.Address {
	var added []model.Address
	for _, a := range addrs {
		if _, ok := s.members[a]; ok {
			continue
		}
		s.members[a] = struct{}{}
		s.order = append(s.order, a)
		added = append(added, a)
	}
	return added
}

// Allows reports whether a may submit a review.
func (s *AuthorizationSet) Allows(a model.Address) bool {
	if s.public {
		return true
	}
	_, ok := s.members[a]
	return ok
}

// contains reports explicit membership, ignoring the public flag.
func (s *AuthorizationSet) contains(a model.Address) bool {
	_, ok := s.members[a]
	return ok
}

func (s *AuthorizationSet) Public() bool { return s.public }

// Members returns a copy of the explicit members in insertion order.
func (s *AuthorizationSet) Members() []model.Address {
	out := make([]model.Address, len(s.order))
	copy(out, s.order)
	return out
}

func (s *AuthorizationSet) Clone() *AuthorizationSet {
	return RestoreAuthorizationSet(s.public, s.order)
}
