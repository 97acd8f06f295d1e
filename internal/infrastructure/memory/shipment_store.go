// Package memory holds in-process implementations of the domain ports with
// the same semantics as the PostgreSQL, S3 and Kafka adapters. They back the
// application and worker tests and support fault injection.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/wms-platform/shipment-service/internal/domain"
)

var errTxFinished = errors.New("transaction already finished")

type shipmentRecord struct {
	shipment *domain.Shipment
	events   []domain.ShipmentEvent
	document *domain.ShipmentDocument
}

// ShipmentStore is an in-memory domain.ShipmentStore.
type ShipmentStore struct {
	mu        sync.Mutex
	records   map[uuid.UUID]*shipmentRecord
	commits   int
	rollbacks int

	// Injected failures; nil means success.
	FindErr   error
	BeginErr  error
	SaveErr   error
	CommitErr error
}

func NewShipmentStore() *ShipmentStore {
	return &ShipmentStore{records: make(map[uuid.UUID]*shipmentRecord)}
}

func (s *ShipmentStore) FindByID(_ context.Context, id uuid.UUID) (*domain.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FindErr != nil {
		return nil, s.FindErr
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, domain.ErrShipmentNotFound
	}
	return rec.restore(), nil
}

func (s *ShipmentStore) ExistsByReference(_ context.Context, referenceNumber string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.records {
		if rec.shipment.ReferenceNumber == referenceNumber {
			return true, nil
		}
	}
	return false, nil
}

func (s *ShipmentStore) Create(_ context.Context, shipment *domain.Shipment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.records {
		if rec.shipment.ReferenceNumber == shipment.ReferenceNumber {
			return domain.ErrDuplicateReference
		}
	}

	s.records[shipment.ID] = &shipmentRecord{
		shipment: snapshot(shipment),
		events:   append([]domain.ShipmentEvent(nil), shipment.PendingEvents()...),
	}
	shipment.MarkPersisted()
	return nil
}

func (s *ShipmentStore) List(_ context.Context, filter domain.ListFilter) ([]*domain.Shipment, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*domain.Shipment
	for _, rec := range s.records {
		if filter.State != "" && rec.shipment.State != filter.State {
			continue
		}
		matched = append(matched, rec.restore())
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if filter.Offset >= total {
		return []*domain.Shipment{}, total, nil
	}
	end := filter.Offset + filter.Limit
	if end > total {
		end = total
	}
	return matched[filter.Offset:end], total, nil
}

func (s *ShipmentStore) Events(_ context.Context, shipmentID uuid.UUID) ([]domain.ShipmentEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[shipmentID]
	if !ok {
		return nil, domain.ErrShipmentNotFound
	}
	return rec.restore().SortedEvents(), nil
}

func (s *ShipmentStore) Begin(_ context.Context) (domain.ShipmentTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.BeginErr != nil {
		return nil, s.BeginErr
	}
	return &shipmentTx{store: s}, nil
}

// Commits returns the number of committed transactions.
func (s *ShipmentStore) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// Rollbacks returns the number of rolled back transactions.
func (s *ShipmentStore) Rollbacks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollbacks
}

// Put stores a shipment as-is, bypassing Create. Pending changes are kept
// as persisted.
func (s *ShipmentStore) Put(shipment *domain.Shipment) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var doc *domain.ShipmentDocument
	if shipment.Document != nil {
		d := *shipment.Document
		doc = &d
	}
	s.records[shipment.ID] = &shipmentRecord{
		shipment: snapshot(shipment),
		events:   append([]domain.ShipmentEvent(nil), shipment.Events...),
		document: doc,
	}
	shipment.MarkPersisted()
}

type stagedSave struct {
	shipment      *domain.Shipment
	expectedState domain.State
	events        []domain.ShipmentEvent
	document      *domain.ShipmentDocument
}

type shipmentTx struct {
	store    *ShipmentStore
	staged   []stagedSave
	finished bool
}

func (t *shipmentTx) Save(_ context.Context, shipment *domain.Shipment) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if t.finished {
		return errTxFinished
	}
	if t.store.SaveErr != nil {
		return t.store.SaveErr
	}

	rec, ok := t.store.records[shipment.ID]
	if !ok || rec.shipment.State != shipment.PersistedState() {
		return domain.ErrConcurrentModification
	}
	if doc := shipment.PendingDocument(); doc != nil && rec.document != nil {
		return domain.ErrLabelAlreadyAttached
	}

	staged := stagedSave{
		shipment:      snapshot(shipment),
		expectedState: shipment.PersistedState(),
		events:        append([]domain.ShipmentEvent(nil), shipment.PendingEvents()...),
	}
	if doc := shipment.PendingDocument(); doc != nil {
		d := *doc
		staged.document = &d
	}
	t.staged = append(t.staged, staged)

	shipment.MarkPersisted()
	return nil
}

func (t *shipmentTx) Commit(_ context.Context) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if t.finished {
		return errTxFinished
	}
	if t.store.CommitErr != nil {
		return t.store.CommitErr
	}

	for _, st := range t.staged {
		rec, ok := t.store.records[st.shipment.ID]
		if !ok || rec.shipment.State != st.expectedState {
			return domain.ErrConcurrentModification
		}
	}
	for _, st := range t.staged {
		rec := t.store.records[st.shipment.ID]
		rec.shipment = st.shipment
		rec.events = append(rec.events, st.events...)
		if st.document != nil {
			rec.document = st.document
		}
	}

	t.finished = true
	t.store.commits++
	return nil
}

func (t *shipmentTx) Rollback(_ context.Context) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if t.finished {
		return nil
	}
	t.finished = true
	t.staged = nil
	t.store.rollbacks++
	return nil
}

// snapshot copies the scalar fields of a shipment.
func snapshot(s *domain.Shipment) *domain.Shipment {
	return domain.RestoreShipment(s.ID, s.ReferenceNumber, s.SenderName, s.RecipientName, s.State, s.CreatedAt, s.UpdatedAt, nil, nil)
}

func (r *shipmentRecord) restore() *domain.Shipment {
	s := r.shipment
	var doc *domain.ShipmentDocument
	if r.document != nil {
		d := *r.document
		doc = &d
	}
	return domain.RestoreShipment(
		s.ID, s.ReferenceNumber, s.SenderName, s.RecipientName, s.State, s.CreatedAt, s.UpdatedAt,
		append([]domain.ShipmentEvent(nil), r.events...),
		doc,
	)
}
