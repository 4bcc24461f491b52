package message

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ehr/hl7-connector/internal/platform/bus"
	"github.com/ehr/hl7-connector/internal/platform/hl7v2"
	"github.com/ehr/hl7-connector/internal/platform/transformer"
	"github.com/ehr/hl7-connector/internal/platform/trustomer"
)

// TrustomerSource supplies per-customer configuration.
type TrustomerSource interface {
	Get(ctx context.Context) (*trustomer.Config, error)
}

// EPRGateway relays outbound HL7v2 messages to the EPR service adapter
// and returns the acknowledgement text.
type EPRGateway interface {
	PostHL7Message(ctx context.Context, content, requestID string) (string, error)
}

// CDAGateway relays HL7v3 CDA documents to the Mirth channel.
type CDAGateway interface {
	Configured() bool
	AcceptMessage(ctx context.Context, document string) (string, error)
}

// ValidationError marks failures caused by the request content. Handlers
// map it to 400.
type ValidationError struct{ msg string }

func (e *ValidationError) Error() string { return e.msg }

func validationf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

type Service struct {
	repo      Repository
	publisher bus.Publisher
	transform transformer.Transformer
	trustomer TrustomerSource
	epr       EPRGateway
	mirth     CDAGateway
	loc       *time.Location
}

func NewService(repo Repository, publisher bus.Publisher, transform transformer.Transformer,
	trustomerSrc TrustomerSource, eprGateway EPRGateway, mirthGateway CDAGateway, loc *time.Location) *Service {
	return &Service{
		repo:      repo,
		publisher: publisher,
		transform: transform,
		trustomer: trustomerSrc,
		epr:       eprGateway,
		mirth:     mirthGateway,
		loc:       loc,
	}
}

// ProcessedMessage is the response to a submitted inbound message.
type ProcessedMessage struct {
	UUID string `json:"uuid"`
	Body string `json:"body"`
	Type string `json:"type"`
}

// ProcessReceivedMessage handles an inbound HL7v2 message from the
// integration engine. The raw submission is persisted before any
// processing so that undecodable or unparseable deliveries can still be
// investigated. Valid messages are acknowledged with an AA ACK and their
// extracted actions published to the platform; invalid ones get an AR or
// AE NACK and are stored unprocessed.
func (s *Service) ProcessReceivedMessage(ctx context.Context, bodyB64 string) (*ProcessedMessage, error) {
	log.Info().Msg("received base64 encoded HL7 message")

	msg := &Message{
		ID:             uuid.New(),
		Content:        bodyB64,
		SrcDescription: SystemTIE,
		DstDescription: SystemDHOS,
	}
	if err := s.repo.Create(ctx, msg); err != nil {
		return nil, err
	}

	parsed, err := s.decodeAndParse(ctx, msg)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	valid := true
	var envelope map[string]any

	if err := s.extractMessage(msg, parsed, &envelope); err != nil {
		valid = false
		msg.Ack = nackFor(parsed, err, s.loc, now)
	}

	if err := s.repo.Update(ctx, msg); err != nil {
		if !errors.Is(err, ErrDuplicateControlID) {
			return nil, err
		}
		// A message with this control id has been stored before. NACK
		// it as a duplicate and store the copy without the control id.
		log.Warn().Msg("failed to process message: duplicate message control ID")
		dup := parsed.GenerateACK("AR", hl7v2.ErrCodeApplicationReject, "HL7 message appears to be duplicate", s.loc, now)
		msg.Ack = &dup
		msg.MessageControlID = nil
		if err := s.repo.Update(ctx, msg); err != nil {
			return nil, err
		}
		valid = false
	}

	if valid && envelope != nil {
		log.Debug().Msg("publishing internal message")
		if err := s.publisher.Publish(bus.SubjectMessageUpdated, envelope); err != nil {
			return nil, err
		}
	}

	return &ProcessedMessage{
		UUID: msg.ID.String(),
		Body: base64.StdEncoding.EncodeToString([]byte(*msg.Ack)),
		Type: "HL7v2",
	}, nil
}

// decodeAndParse decodes, transforms and parses the submitted content.
// Whatever state the content reached is persisted before a failure is
// returned; a message that cannot even be parsed gets no NACK since
// there is nothing to refer to it by.
func (s *Service) decodeAndParse(ctx context.Context, msg *Message) (*hl7v2.Message, error) {
	decoded, err := base64.StdEncoding.DecodeString(msg.Content)
	if err != nil {
		return nil, s.failParse(ctx, msg, validationf("Message body could not be decoded as base64: %s", msg.Content))
	}
	msg.Content = s.transform.TransformIncoming(string(decoded))

	parsed, err := hl7v2.Parse(msg.Content)
	if err != nil {
		return nil, s.failParse(ctx, msg, validationf("%s", err))
	}
	return parsed, nil
}

func (s *Service) failParse(ctx context.Context, msg *Message, cause error) error {
	log.Error().Err(cause).Msg("failed to parse incoming HL7 message")
	if err := s.repo.Update(ctx, msg); err != nil {
		return err
	}
	return cause
}

// extractMessage validates the parsed message and fills in the stored
// row's metadata, AA acknowledgement and the action envelope to publish.
func (s *Service) extractMessage(msg *Message, parsed *hl7v2.Message, envelope *map[string]any) error {
	if err := parsed.Validate(); err != nil {
		return err
	}
	msg.PatientIdentifiers = parsed.PatientIdentifiers()
	messageType := parsed.MessageTypeField()
	msg.MessageType = &messageType

	iso, err := parsed.MessageDatetimeISO8601(s.loc)
	if err != nil {
		return err
	}
	sentAt, err := hl7v2.ParseISO8601(iso)
	if err != nil {
		return err
	}
	msg.SentAt = &sentAt

	controlID := parsed.ControlID()
	msg.MessageControlID = &controlID
	ack := parsed.GenerateACK("AA", "", "", s.loc, time.Now())
	msg.Ack = &ack
	log.Info().Str("message_control_id", controlID).Msg("received message for processing")

	actions, err := parsed.GenerateActions(s.loc)
	if err != nil {
		return err
	}
	*envelope = map[string]any{
		"dhos_connector_message_uuid": msg.ID.String(),
		"actions":                     actions,
	}
	return nil
}

// nackFor builds the negative acknowledgement matching a processing
// failure.
func nackFor(parsed *hl7v2.Message, err error, loc *time.Location, now time.Time) *string {
	var (
		reject *hl7v2.RejectError
		appErr *hl7v2.ApplicationError
		ack    string
	)
	switch {
	case errors.As(err, &reject):
		log.Warn().Str("reason", reject.Reason).Msg("failed to process message")
		ack = parsed.GenerateACK("AR", hl7v2.ErrCodeApplicationReject, reject.Reason, loc, now)
	case errors.As(err, &appErr):
		log.Warn().Str("reason", appErr.Reason).Msg("failed to process message")
		ack = parsed.GenerateACK("AE", hl7v2.ErrCodeApplicationError, appErr.Reason, loc, now)
	default:
		log.Error().Err(err).Msg("failed to process message: unexpected error, check the HL7 message contents")
		ack = parsed.GenerateACK("AE", hl7v2.ErrCodeApplicationError, "Unexpected error: "+errorTypeName(err), loc, now)
	}
	return &ack
}

func errorTypeName(err error) string {
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

// SetProcessed marks a stored message as processed (or not).
func (s *Service) SetProcessed(ctx context.Context, id uuid.UUID, isProcessed bool) error {
	msg, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	log.Info().Str("message_uuid", id.String()).Bool("is_processed", isProcessed).Msg("updating HL7 message")
	msg.IsProcessed = isProcessed
	return s.repo.Update(ctx, msg)
}

func (s *Service) GetMessage(ctx context.Context, id uuid.UUID) (*Message, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) FindByControlID(ctx context.Context, controlID string) ([]*Message, error) {
	return s.repo.FindByControlID(ctx, controlID)
}

func (s *Service) FindByIdentifier(ctx context.Context, identifierType, identifier string) ([]*Message, error) {
	return s.repo.FindByIdentifier(ctx, identifierType, identifier)
}
