package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// State represents the lifecycle state of a shipment
type State string

const (
	StateCreated        State = "Created"
	StateLabelUploaded  State = "LabelUploaded"
	StateLabelProcessed State = "LabelProcessed"
	StateFailed         State = "Failed"
)

// ParseState accepts a state name case-insensitively.
func ParseState(s string) (State, bool) {
	for _, st := range []State{StateCreated, StateLabelUploaded, StateLabelProcessed, StateFailed} {
		if strings.EqualFold(string(st), s) {
			return st, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further transitions are allowed
func (s State) IsTerminal() bool {
	return s == StateLabelProcessed || s == StateFailed
}

// Shipment is the aggregate root for a shipment and its label.
type Shipment struct {
	ID              uuid.UUID
	ReferenceNumber string
	SenderName      string
	RecipientName   string
	State           State
	CreatedAt       time.Time
	UpdatedAt       time.Time

	Events   []ShipmentEvent
	Document *ShipmentDocument

	// persistedState is the state last read from or written to the store;
	// updates are conditional on it.
	persistedState  State
	pendingEvents   []ShipmentEvent
	pendingDocument *ShipmentDocument
}

// NewShipment creates a shipment in the Created state with its CREATED event.
func NewShipment(referenceNumber, senderName, recipientName, correlationID string, at time.Time) *Shipment {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	s := &Shipment{
		ID:              uuid.New(),
		ReferenceNumber: referenceNumber,
		SenderName:      senderName,
		RecipientName:   recipientName,
		State:           StateCreated,
		CreatedAt:       at,
		UpdatedAt:       at,
	}
	s.record(EventCreated, "", correlationID, at)
	return s
}

// RestoreShipment rebuilds a persisted shipment. Events must already be in
// store order.
func RestoreShipment(id uuid.UUID, referenceNumber, senderName, recipientName string, state State, createdAt, updatedAt time.Time, events []ShipmentEvent, document *ShipmentDocument) *Shipment {
	return &Shipment{
		ID:              id,
		ReferenceNumber: referenceNumber,
		SenderName:      senderName,
		RecipientName:   recipientName,
		State:           state,
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
		Events:          events,
		Document:        document,
		persistedState:  state,
	}
}

// AttachLabel records an uploaded label and moves the shipment to LabelUploaded.
func (s *Shipment) AttachLabel(blobName, contentType string, size int64, correlationID string, at time.Time) (*ShipmentDocument, error) {
	if s.State != StateCreated {
		return nil, ErrInvalidStateTransition
	}
	if s.Document != nil {
		return nil, ErrLabelAlreadyAttached
	}

	doc := &ShipmentDocument{
		ID:          uuid.New(),
		ShipmentID:  s.ID,
		BlobName:    blobName,
		ContentType: contentType,
		Size:        size,
		UploadedAt:  at,
	}
	s.Document = doc
	s.pendingDocument = doc
	s.State = StateLabelUploaded
	s.UpdatedAt = at
	s.record(EventLabelUploaded, "Label uploaded: "+blobName, correlationID, at)

	return doc, nil
}

// MarkLabelProcessed completes label processing.
func (s *Shipment) MarkLabelProcessed(correlationID string, at time.Time) error {
	if s.State != StateLabelUploaded {
		return ErrInvalidStateTransition
	}

	s.State = StateLabelProcessed
	s.UpdatedAt = at
	s.record(EventLabelProcessed, "", correlationID, at)
	return nil
}

// Fail moves a non-terminal shipment to Failed, recording the diagnostic payload.
func (s *Shipment) Fail(payload, correlationID string, at time.Time) error {
	if s.State.IsTerminal() {
		return ErrInvalidStateTransition
	}

	s.State = StateFailed
	s.UpdatedAt = at
	s.record(EventFailed, payload, correlationID, at)
	return nil
}

// HasEvent reports whether the history contains an event with the given code.
func (s *Shipment) HasEvent(code EventCode) bool {
	for _, e := range s.Events {
		if e.EventCode == code {
			return true
		}
	}
	return false
}

// CorrelationID returns the correlation id of the CREATED event, or "".
func (s *Shipment) CorrelationID() string {
	for _, e := range s.Events {
		if e.EventCode == EventCreated {
			return e.CorrelationID
		}
	}
	return ""
}

// SortedEvents returns the history ordered by event time, oldest first.
// Ties keep insertion order.
func (s *Shipment) SortedEvents() []ShipmentEvent {
	out := make([]ShipmentEvent, len(s.Events))
	copy(out, s.Events)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EventTime.Before(out[j].EventTime)
	})
	return out
}

// LastEvent returns the most recent event, if any.
func (s *Shipment) LastEvent() (ShipmentEvent, bool) {
	events := s.SortedEvents()
	if len(events) == 0 {
		return ShipmentEvent{}, false
	}
	return events[len(events)-1], true
}

// PersistedState is the state the store currently holds for this shipment.
func (s *Shipment) PersistedState() State {
	return s.persistedState
}

// PendingEvents returns events appended since the shipment was loaded or saved.
func (s *Shipment) PendingEvents() []ShipmentEvent {
	return s.pendingEvents
}

// PendingDocument returns a document attached since the shipment was loaded.
func (s *Shipment) PendingDocument() *ShipmentDocument {
	return s.pendingDocument
}

// MarkPersisted clears pending changes once the store has written them.
func (s *Shipment) MarkPersisted() {
	s.persistedState = s.State
	s.pendingEvents = nil
	s.pendingDocument = nil
}

func (s *Shipment) record(code EventCode, payload, correlationID string, at time.Time) {
	e := ShipmentEvent{
		ID:            uuid.New(),
		ShipmentID:    s.ID,
		EventCode:     code,
		EventTime:     at,
		Payload:       payload,
		CorrelationID: correlationID,
	}
	s.Events = append(s.Events, e)
	s.pendingEvents = append(s.pendingEvents, e)
}
