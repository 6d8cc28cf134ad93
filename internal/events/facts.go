package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mewiskl/zama-Talklet-Review/internal/model"
)

// Kind names a domain fact.
type Kind string

const (
	KindSessionCreated      Kind = "session_created"
	KindAttendeesAuthorized Kind = "attendees_authorized"
	KindReviewSubmitted     Kind = "review_submitted"
	KindSessionClosed       Kind = "session_closed"
	KindDecryptionRequested Kind = "decryption_requested"
	KindScoresDecrypted     Kind = "scores_decrypted"
)

// Fact is an observable state change. Facts never carry plaintext ratings.
// ID is assigned by the store on commit.
type Fact struct {
	ID        int64           `json:"id"`
	Kind      Kind            `json:"kind"`
	SessionID model.SessionID `json:"sessionId"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

type SessionCreatedPayload struct {
	Title     string        `json:"title"`
	Speaker   model.Address `json:"speaker"`
	Organizer model.Address `json:"organizer"`
	Public    bool          `json:"public"`
}

type AttendeesAuthorizedPayload struct {
	Added []model.Address `json:"added"`
}

type ReviewSubmittedPayload struct {
	Reviewer model.Address `json:"reviewer"`
	Replaced bool          `json:"replaced"`
}

// DecryptionRequestedPayload is what the decryption oracle acts on.
type DecryptionRequestedPayload struct {
	Organizer model.Address         `json:"organizer"`
	Handles   model.Handles         `json:"handles"`
	Grant     model.DecryptionGrant `json:"grant"`
}

// NewFact marshals payload into a Fact. A nil payload leaves it empty.
func NewFact(kind Kind, id model.SessionID, payload any, at time.Time) (Fact, error) {
	f := Fact{Kind: kind, SessionID: id, CreatedAt: at}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Fact{}, fmt.Errorf("marshal %s payload: %w", kind, err)
		}
		f.Payload = raw
	}
	return f, nil
}

// Decode unmarshals the payload into v.
func (f Fact) Decode(v any) error {
	if len(f.Payload) == 0 {
		return fmt.Errorf("fact %d (%s) has no payload", f.ID, f.Kind)
	}
	return json.Unmarshal(f.Payload, v)
}
