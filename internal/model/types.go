package model

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Address identifies an account (organizer, speaker or attendee).
// Canonical form is lowercase 0x-prefixed 20-byte hex.
type Address string

// ZeroAddress is the null identifier.
const ZeroAddress Address = "0x0000000000000000000000000000000000000000"

// ParseAddress validates and canonicalises an address string.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if len(s) != 42 || !(strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")) {
		return "", NewError(CodeInvalidInput, fmt.Sprintf("invalid address %q", s))
	}
	if _, err := hex.DecodeString(s[2:]); err != nil {
		return "", NewError(CodeInvalidInput, fmt.Sprintf("invalid address %q", s))
	}
	return Address("0x" + strings.ToLower(s[2:])), nil
}

// IsZero reports whether a is the null identifier (or empty).
func (a Address) IsZero() bool { return a == "" || a == ZeroAddress }

func (a Address) String() string { return string(a) }

// SessionID is assigned at creation from a monotonically increasing counter.
type SessionID uint64

// Phase is a session's position in its lifecycle.
type Phase int

const (
	PhaseActive Phase = iota
	PhaseClosed
	PhaseDecryptionRequested
	PhaseDecrypted
)

var phaseNames = [...]string{"Active", "Closed", "DecryptionRequested", "Decrypted"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return phaseNames[p]
}

// ParsePhase is the inverse of Phase.String.
func ParsePhase(s string) (Phase, error) {
	for i, n := range phaseNames {
		if n == s {
			return Phase(i), nil
		}
	}
	return 0, fmt.Errorf("unknown phase %q", s)
}

// Next returns the single legal successor of p. Decrypted is terminal.
func (p Phase) Next() (Phase, bool) {
	if p < PhaseActive || p >= PhaseDecrypted {
		return p, false
	}
	return p + 1, true
}

// CanAdvanceTo reports whether next is the single legal successor of p.
func (p Phase) CanAdvanceTo(next Phase) bool {
	n, ok := p.Next()
	return ok && n == next
}

// Field indexes the three rated dimensions.
type Field int

const (
	FieldClarity Field = iota
	FieldInnovation
	FieldInspiration
	NumFields
)

func (f Field) String() string {
	switch f {
	case FieldClarity:
		return "clarity"
	case FieldInnovation:
		return "innovation"
	case FieldInspiration:
		return "inspiration"
	}
	return fmt.Sprintf("Field(%d)", int(f))
}

// Question tag bits carried as plaintext metadata on a review.
const (
	TagTechnical   uint8 = 1 << 0
	TagApplication uint8 = 1 << 1
	TagTheoretical uint8 = 1 << 2

	tagMask = TagTechnical | TagApplication | TagTheoretical
)

// ValidTags reports whether tags only uses known bits.
func ValidTags(tags uint8) bool { return tags&^tagMask == 0 }

// Handle is an opaque reference to a ciphertext owned by the cipher layer.
type Handle string

// Handles holds one ciphertext handle per Field.
type Handles [NumFields]Handle

// Scores are plaintext per-field totals, only meaningful after decryption.
type Scores struct {
	Clarity     uint32 `json:"clarity"`
	Innovation  uint32 `json:"innovation"`
	Inspiration uint32 `json:"inspiration"`
}

// Array returns the scores in Field order.
func (s Scores) Array() [NumFields]uint32 {
	return [NumFields]uint32{s.Clarity, s.Innovation, s.Inspiration}
}

// ScoresFromArray builds Scores from values in Field order.
func ScoresFromArray(v [NumFields]uint32) Scores {
	return Scores{Clarity: v[FieldClarity], Innovation: v[FieldInnovation], Inspiration: v[FieldInspiration]}
}

// Averages are per-field means over the review count.
type Averages struct {
	Clarity     float64 `json:"clarity"`
	Innovation  float64 `json:"innovation"`
	Inspiration float64 `json:"inspiration"`
	Overall     float64 `json:"overall"`
}

// ReviewRecord marks that a reviewer contributed to a session.
// It never holds a plaintext rating.
type ReviewRecord struct {
	Reviewer    Address   `json:"reviewer"`
	Tags        uint8     `json:"tags"`
	QADuration  uint32    `json:"qaDuration"`
	Handles     Handles   `json:"handles"`
	Revision    int       `json:"revision"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Session is the registry's record for one academic session.
type Session struct {
	ID                    SessionID  `json:"id"`
	Title                 string     `json:"title"`
	Speaker               Address    `json:"speaker"`
	Organizer             Address    `json:"organizer"`
	CreatedAt             time.Time  `json:"createdAt"`
	Phase                 Phase      `json:"phase"`
	ReviewCount           int        `json:"reviewCount"`
	Accumulator           Handles    `json:"accumulator"`
	Aggregate             Scores     `json:"aggregate"`
	ClosedAt              *time.Time `json:"closedAt,omitempty"`
	DecryptionRequestedAt *time.Time `json:"decryptionRequestedAt,omitempty"`
	DecryptedAt           *time.Time `json:"decryptedAt,omitempty"`
}

// IsActive mirrors the contract's isActive flag.
func (s *Session) IsActive() bool { return s.Phase == PhaseActive }

// IsDecrypted mirrors the contract's isDecrypted flag.
func (s *Session) IsDecrypted() bool { return s.Phase == PhaseDecrypted }

// SessionSnapshot is the read model returned to callers.
// Aggregate is nil unless the session is decrypted.
type SessionSnapshot struct {
	ID          SessionID `json:"id"`
	Title       string    `json:"title"`
	Speaker     Address   `json:"speaker"`
	Organizer   Address   `json:"organizer"`
	CreatedAt   time.Time `json:"createdAt"`
	Phase       string    `json:"phase"`
	IsActive    bool      `json:"isActive"`
	IsDecrypted bool      `json:"isDecrypted"`
	ReviewCount int       `json:"reviewCount"`
	Aggregate   *Scores   `json:"aggregate,omitempty"`
}

// Snapshot copies s into its read model.
func (s *Session) Snapshot() SessionSnapshot {
	out := SessionSnapshot{
		ID:          s.ID,
		Title:       s.Title,
		Speaker:     s.Speaker,
		Organizer:   s.Organizer,
		CreatedAt:   s.CreatedAt,
		Phase:       s.Phase.String(),
		IsActive:    s.IsActive(),
		IsDecrypted: s.IsDecrypted(),
		ReviewCount: s.ReviewCount,
	}
	if s.IsDecrypted() {
		agg := s.Aggregate
		out.Aggregate = &agg
	}
	return out
}

// DecryptionGrant is the organizer's authorization window for the off-line
// decryption of a session's accumulator.
type DecryptionGrant struct {
	StartTimestamp int64 `json:"startTimestamp"`
	DurationDays   int   `json:"durationDays"`
}

// Covers reports whether t falls inside the grant window.
func (g DecryptionGrant) Covers(t time.Time) bool {
	start := time.Unix(g.StartTimestamp, 0)
	end := start.Add(time.Duration(g.DurationDays) * 24 * time.Hour)
	return !t.Before(start) && t.Before(end)
}
