package repository

import (
	"context"
	"time"

	"github.com/iliyamo/camp-booking-engine/internal/model"
)

// InsertCallback records that a gateway event has been applied.  The
// unique key on (gateway_transaction_id, event_type) turns a concurrent
// or repeated delivery into a duplicate-key error, reported as false.
func (t *sqlTx) InsertCallback(ctx context.Context, cb *model.GatewayCallback) (bool, error) {
	if cb.ReceivedAt.IsZero() {
		cb.ReceivedAt = time.Now().UTC()
	}
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO gateway_callbacks (gateway_transaction_id, event_type, order_id, outcome, payload, received_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		cb.GatewayTransactionID, cb.EventType, cb.OrderID, cb.Outcome, cb.Payload, cb.ReceivedAt)
	if err != nil {
		if isDuplicateKey(err) {
			return false, nil
		}
		return false, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return false, err
	}
	cb.ID = uint64(id)
	return true, nil
}

// InsertAudit appends an audit event.
func (t *sqlTx) InsertAudit(ctx context.Context, ev *model.AuditEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO audit_events (entity, entity_id, from_status, to_status, reason, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.Entity, ev.EntityID, ev.FromStatus, ev.ToStatus, ev.Reason, ev.Detail, ev.CreatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	ev.ID = uint64(id)
	return nil
}

// ListAuditEvents returns the audit trail of one entity, oldest first.
func (r queries) ListAuditEvents(ctx context.Context, entity model.AuditEntity, entityID uint64) ([]model.AuditEvent, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, entity, entity_id, from_status, to_status, reason, detail, created_at
		 FROM audit_events WHERE entity = ? AND entity_id = ? ORDER BY id`, entity, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.AuditEvent, 0)
	for rows.Next() {
		var ev model.AuditEvent
		if err := rows.Scan(&ev.ID, &ev.Entity, &ev.EntityID, &ev.FromStatus, &ev.ToStatus,
			&ev.Reason, &ev.Detail, &ev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
