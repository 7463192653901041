/*
event.go - Payment event decoding

PURPOSE:
  Strict decode of the provider's loosely-typed JSON events. Decoding
  happens only after signature verification; unknown event types are
  acknowledged and ignored rather than rejected, so the provider does
  not retry events this core does not care about.
*/
package payment

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventCheckoutCompleted is the only event type that triggers a credit.
const EventCheckoutCompleted = "checkout.session.completed"

// ErrMalformedEvent means the payload is not valid JSON or a credit
// event is missing required fields.
var ErrMalformedEvent = errors.New("malformed payment event")

// Event is a verified, decoded payment event.
type Event struct {
	ID       string `json:"event_id"`
	Type     string `json:"type"`
	Metadata struct {
		UserID    string `json:"user_id"`
		PackageID string `json:"package_id"`
	} `json:"metadata"`
}

// DecodeEvent parses a verified payload. For credit-triggering events,
// event_id, metadata.user_id, and metadata.package_id are required.
func DecodeEvent(payload []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}
	if ev.Type == EventCheckoutCompleted {
		if ev.ID == "" || ev.Metadata.UserID == "" || ev.Metadata.PackageID == "" {
			return nil, fmt.Errorf("%w: missing event_id or metadata", ErrMalformedEvent)
		}
	}
	return &ev, nil
}
