package message

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no message matches the given key.
var ErrNotFound = errors.New("message not found")

// ErrDuplicateControlID is returned when a write would store a message
// control id that another row already holds. The unique index on
// message_control_id is how duplicate deliveries from the integration
// engine are detected.
var ErrDuplicateControlID = errors.New("duplicate message control id")

type Repository interface {
	Create(ctx context.Context, m *Message) error
	Update(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*Message, error)
	FindByControlID(ctx context.Context, controlID string) ([]*Message, error)
	FindByIdentifier(ctx context.Context, identifierType, identifier string) ([]*Message, error)
}
