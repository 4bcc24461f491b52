package message

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/hl7-connector/internal/platform/hl7v2"
)

// Source and destination system labels recorded against each message.
const (
	SystemDHOS  = "dhos"
	SystemTIE   = "tie"
	SystemMirth = "mirth"
)

// Message maps to the hl7_message table. It records every message that
// crosses the connector in either direction, together with the
// acknowledgement that was produced or received for it.
type Message struct {
	ID                 uuid.UUID         `db:"id" json:"uuid"`
	Content            string            `db:"content" json:"content"`
	MessageType        *string           `db:"message_type" json:"message_type"`
	SentAt             *time.Time        `db:"sent_at" json:"sent_at"`
	IsProcessed        bool              `db:"is_processed" json:"is_processed"`
	SrcDescription     string            `db:"src_description" json:"src_description"`
	DstDescription     string            `db:"dst_description" json:"dst_description"`
	MessageControlID   *string           `db:"message_control_id" json:"message_control_id"`
	Ack                *string           `db:"ack" json:"-"`
	PatientIdentifiers map[string]string `db:"patient_identifiers" json:"-"`
	CreatedAt          time.Time         `db:"created_at" json:"created"`
	UpdatedAt          time.Time         `db:"updated_at" json:"modified"`
}

// Status reports where the message is in its lifecycle.
func (m *Message) Status() string {
	if m.IsProcessed {
		return "processed"
	}
	if m.SrcDescription == SystemDHOS {
		return "sent"
	}
	return "received"
}

// AckStatus returns the acknowledgement code (MSA-1) from the stored ACK
// message. Expected values are "AA", "AR" and "AE"; nil when no ACK has
// been stored or it cannot be parsed.
func (m *Message) AckStatus() *string {
	if m.Ack == nil || *m.Ack == "" {
		return nil
	}
	parsed, err := hl7v2.Parse(*m.Ack)
	if err != nil {
		return nil
	}
	status := parsed.Get("MSA.F1")
	return &status
}

// ToAPI renders the message for API responses. The stored ACK is
// summarised to its status code rather than returned in full.
func (m *Message) ToAPI() map[string]any {
	var sentAt *string
	if m.SentAt != nil {
		iso := hl7v2.FormatISO8601(*m.SentAt)
		sentAt = &iso
	}
	return map[string]any{
		"uuid":               m.ID.String(),
		"created":            hl7v2.FormatISO8601(m.CreatedAt),
		"modified":           hl7v2.FormatISO8601(m.UpdatedAt),
		"content":            m.Content,
		"message_type":       m.MessageType,
		"sent_at":            sentAt,
		"is_processed":       m.IsProcessed,
		"src_description":    m.SrcDescription,
		"dst_description":    m.DstDescription,
		"message_control_id": m.MessageControlID,
		"ack_status":         m.AckStatus(),
	}
}
