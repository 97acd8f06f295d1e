package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wms-platform/shipment-service/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

const (
	insertShipmentQuery = `
INSERT INTO shipments (id, reference_number, sender_name, recipient_name, state, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`

	// The state guard makes every read-modify-write conditional on what was read.
	updateShipmentQuery = `
UPDATE shipments
SET state = $2, updated_at = $3
WHERE id = $1 AND state = $4;
`

	insertEventQuery = `
INSERT INTO shipment_events (id, shipment_id, event_code, event_time, payload, correlation_id)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6);
`

	insertDocumentQuery = `
INSERT INTO shipment_documents (id, shipment_id, blob_name, content_type, size, uploaded_at)
VALUES ($1, $2, $3, $4, $5, $6);
`

	selectShipmentQuery = `
SELECT id, reference_number, sender_name, recipient_name, state, created_at, updated_at
FROM shipments
WHERE id = $1;
`

	selectEventsQuery = `
SELECT id, shipment_id, event_code, event_time, COALESCE(payload, ''), correlation_id
FROM shipment_events
WHERE shipment_id = $1
ORDER BY event_time, seq;
`

	selectDocumentQuery = `
SELECT id, shipment_id, blob_name, content_type, size, uploaded_at
FROM shipment_documents
WHERE shipment_id = $1;
`

	existsByReferenceQuery = `SELECT EXISTS (SELECT 1 FROM shipments WHERE reference_number = $1);`
	existsByIDQuery        = `SELECT EXISTS (SELECT 1 FROM shipments WHERE id = $1);`

	countShipmentsQuery = `
SELECT COUNT(*)
FROM shipments
WHERE ($1 = '' OR state = $1);
`

	listShipmentsQuery = `
SELECT id, reference_number, sender_name, recipient_name, state, created_at, updated_at
FROM shipments
WHERE ($1 = '' OR state = $1)
ORDER BY created_at DESC, id
LIMIT $2 OFFSET $3;
`
)

// ShipmentStore implements domain.ShipmentStore on PostgreSQL.
type ShipmentStore struct {
	pool *pgxpool.Pool
}

// NewShipmentStore creates the store and bootstraps the schema if missing.
func NewShipmentStore(ctx context.Context, pool *pgxpool.Pool) (*ShipmentStore, error) {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("failed to create shipment schema: %w", err)
	}
	return &ShipmentStore{pool: pool}, nil
}

// Ping reports whether the database is reachable.
func (s *ShipmentStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// FindByID loads the shipment row, events and document from one snapshot.
func (s *ShipmentStore) FindByID(ctx context.Context, id uuid.UUID) (*domain.Shipment, error) {
	var shipment *domain.Shipment
	err := s.read(ctx, func(q Querier) error {
		var err error
		shipment, err = loadShipment(ctx, q, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return shipment, nil
}

// read runs fn in a read-only repeatable read transaction, so that reads
// spanning several statements see a single commit point.
func (s *ShipmentStore) read(ctx context.Context, fn func(q Querier) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to end read transaction: %w", err)
	}
	return nil
}

func (s *ShipmentStore) ExistsByReference(ctx context.Context, referenceNumber string) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, existsByReferenceQuery, referenceNumber).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check reference number: %w", err)
	}
	return exists, nil
}

// Create inserts the shipment row and its pending events in one transaction.
func (s *ShipmentStore) Create(ctx context.Context, shipment *domain.Shipment) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, insertShipmentQuery,
		shipment.ID,
		shipment.ReferenceNumber,
		shipment.SenderName,
		shipment.RecipientName,
		string(shipment.State),
		shipment.CreatedAt,
		shipment.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateReference
		}
		return fmt.Errorf("failed to insert shipment: %w", err)
	}

	if err := insertEvents(ctx, tx, shipment.PendingEvents()); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit shipment: %w", err)
	}
	shipment.MarkPersisted()
	return nil
}

func (s *ShipmentStore) List(ctx context.Context, filter domain.ListFilter) ([]*domain.Shipment, int, error) {
	state := string(filter.State)

	var (
		total     int
		shipments []*domain.Shipment
	)
	err := s.read(ctx, func(q Querier) error {
		if err := q.QueryRow(ctx, countShipmentsQuery, state).Scan(&total); err != nil {
			return fmt.Errorf("failed to count shipments: %w", err)
		}

		rows, err := q.Query(ctx, listShipmentsQuery, state, filter.Limit, filter.Offset)
		if err != nil {
			return fmt.Errorf("failed to list shipments: %w", err)
		}
		defer rows.Close()

		shipments = make([]*domain.Shipment, 0, filter.Limit)
		for rows.Next() {
			shipment, err := scanShipment(rows, nil, nil)
			if err != nil {
				return err
			}
			shipments = append(shipments, shipment)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to iterate shipments: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	return shipments, total, nil
}

// Events returns the shipment's history oldest first.
func (s *ShipmentStore) Events(ctx context.Context, shipmentID uuid.UUID) ([]domain.ShipmentEvent, error) {
	var events []domain.ShipmentEvent
	err := s.read(ctx, func(q Querier) error {
		var err error
		events, err = loadEvents(ctx, q, shipmentID)
		if err != nil || len(events) > 0 {
			return err
		}

		var exists bool
		if err := q.QueryRow(ctx, existsByIDQuery, shipmentID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check shipment: %w", err)
		}
		if !exists {
			return domain.ErrShipmentNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (s *ShipmentStore) Begin(ctx context.Context) (domain.ShipmentTx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &shipmentTx{tx: tx}, nil
}

// shipmentTx implements domain.ShipmentTx over a pgx transaction.
type shipmentTx struct {
	tx pgx.Tx
}

func (t *shipmentTx) Save(ctx context.Context, shipment *domain.Shipment) error {
	tag, err := t.tx.Exec(ctx, updateShipmentQuery,
		shipment.ID,
		string(shipment.State),
		shipment.UpdatedAt,
		string(shipment.PersistedState()),
	)
	if err != nil {
		return fmt.Errorf("failed to update shipment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConcurrentModification
	}

	if err := insertEvents(ctx, t.tx, shipment.PendingEvents()); err != nil {
		return err
	}

	if doc := shipment.PendingDocument(); doc != nil {
		_, err := t.tx.Exec(ctx, insertDocumentQuery,
			doc.ID,
			doc.ShipmentID,
			doc.BlobName,
			doc.ContentType,
			doc.Size,
			doc.UploadedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrLabelAlreadyAttached
			}
			return fmt.Errorf("failed to insert shipment document: %w", err)
		}
	}

	shipment.MarkPersisted()
	return nil
}

func (t *shipmentTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (t *shipmentTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("failed to roll back transaction: %w", err)
	}
	return nil
}

func insertEvents(ctx context.Context, q Querier, events []domain.ShipmentEvent) error {
	for _, e := range events {
		_, err := q.Exec(ctx, insertEventQuery,
			e.ID,
			e.ShipmentID,
			string(e.EventCode),
			e.EventTime,
			e.Payload,
			e.CorrelationID,
		)
		if err != nil {
			return fmt.Errorf("failed to insert %s event: %w", e.EventCode, err)
		}
	}
	return nil
}

func loadShipment(ctx context.Context, q Querier, id uuid.UUID) (*domain.Shipment, error) {
	events, err := loadEvents(ctx, q, id)
	if err != nil {
		return nil, err
	}
	doc, err := loadDocument(ctx, q, id)
	if err != nil {
		return nil, err
	}

	shipment, err := scanShipment(q.QueryRow(ctx, selectShipmentQuery, id), events, doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrShipmentNotFound
		}
		return nil, err
	}
	return shipment, nil
}

func loadEvents(ctx context.Context, q Querier, shipmentID uuid.UUID) ([]domain.ShipmentEvent, error) {
	rows, err := q.Query(ctx, selectEventsQuery, shipmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query shipment events: %w", err)
	}
	defer rows.Close()

	var events []domain.ShipmentEvent
	for rows.Next() {
		var (
			e    domain.ShipmentEvent
			code string
		)
		if err := rows.Scan(&e.ID, &e.ShipmentID, &code, &e.EventTime, &e.Payload, &e.CorrelationID); err != nil {
			return nil, fmt.Errorf("failed to scan shipment event: %w", err)
		}
		e.EventCode = domain.EventCode(code)
		e.EventTime = e.EventTime.UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate shipment events: %w", err)
	}
	return events, nil
}

func loadDocument(ctx context.Context, q Querier, shipmentID uuid.UUID) (*domain.ShipmentDocument, error) {
	var doc domain.ShipmentDocument
	err := q.QueryRow(ctx, selectDocumentQuery, shipmentID).Scan(
		&doc.ID,
		&doc.ShipmentID,
		&doc.BlobName,
		&doc.ContentType,
		&doc.Size,
		&doc.UploadedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query shipment document: %w", err)
	}
	doc.UploadedAt = doc.UploadedAt.UTC()
	return &doc, nil
}

func scanShipment(row pgx.Row, events []domain.ShipmentEvent, doc *domain.ShipmentDocument) (*domain.Shipment, error) {
	var (
		id                                  uuid.UUID
		reference, sender, recipient, state string
		createdAt, updatedAt                time.Time
	)
	if err := row.Scan(&id, &reference, &sender, &recipient, &state, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan shipment: %w", err)
	}

	return domain.RestoreShipment(
		id, reference, sender, recipient,
		domain.State(state),
		createdAt.UTC(), updatedAt.UTC(),
		events, doc,
	), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
