package message

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type messageRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &messageRepoPG{pool: pool}
}

const messageCols = `id, content, message_type, sent_at, is_processed,
	src_description, dst_description, message_control_id, ack,
	patient_identifiers, created_at, updated_at`

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.Content, &m.MessageType, &m.SentAt, &m.IsProcessed,
		&m.SrcDescription, &m.DstDescription, &m.MessageControlID, &m.Ack,
		&m.PatientIdentifiers, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &m, err
}

func (r *messageRepoPG) Create(ctx context.Context, m *Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO hl7_message (id, content, message_type, sent_at, is_processed,
			src_description, dst_description, message_control_id, ack, patient_identifiers)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		m.ID, m.Content, m.MessageType, m.SentAt, m.IsProcessed,
		m.SrcDescription, m.DstDescription, m.MessageControlID, m.Ack, m.PatientIdentifiers)
	return translateUniqueViolation(err)
}

func (r *messageRepoPG) Update(ctx context.Context, m *Message) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE hl7_message SET content=$2, message_type=$3, sent_at=$4, is_processed=$5,
			message_control_id=$6, ack=$7, patient_identifiers=$8, updated_at=NOW()
		WHERE id = $1`,
		m.ID, m.Content, m.MessageType, m.SentAt, m.IsProcessed,
		m.MessageControlID, m.Ack, m.PatientIdentifiers)
	return translateUniqueViolation(err)
}

func (r *messageRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	return scanMessage(r.pool.QueryRow(ctx, `SELECT `+messageCols+` FROM hl7_message WHERE id = $1`, id))
}

func (r *messageRepoPG) FindByControlID(ctx context.Context, controlID string) ([]*Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+messageCols+` FROM hl7_message
		WHERE message_control_id = $1 ORDER BY created_at DESC`, controlID)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

func (r *messageRepoPG) FindByIdentifier(ctx context.Context, identifierType, identifier string) ([]*Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+messageCols+` FROM hl7_message
		WHERE patient_identifiers ->> $1 = $2 ORDER BY created_at DESC`, identifierType, identifier)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

func collectMessages(rows pgx.Rows) ([]*Message, error) {
	defer rows.Close()
	var items []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func translateUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateControlID
	}
	return err
}
