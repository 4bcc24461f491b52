package message

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ehr/hl7-connector/internal/platform/epr"
	"github.com/ehr/hl7-connector/internal/platform/hl7v2"
	"github.com/ehr/hl7-connector/internal/platform/trustomer"
)

// ORUData is the payload of a process_observation_set action.
type ORUData struct {
	Patient        *hl7v2.ORUPatient     `json:"patient"`
	Encounter      *hl7v2.ORUEncounter   `json:"encounter"`
	ObservationSet *hl7v2.ObservationSet `json:"observation_set"`
	Clinician      *hl7v2.ORUClinician   `json:"clinician"`
}

// CreateORUMessage generates an ORU^R01 message for an observation set,
// stores it and forwards it to the EPR service adapter. Customers that
// have ORU generation disabled get a silent no-op.
func (s *Service) CreateORUMessage(ctx context.Context, data ORUData) error {
	cfg, err := s.trustomer.Get(ctx)
	if err != nil {
		return err
	}
	if !cfg.SendConfig.GenerateORUMessages {
		log.Debug().Msg("not sending ORU message due to config")
		return nil
	}

	oru, err := s.generateORU(cfg, data)
	if err != nil {
		return err
	}
	msg, err := s.saveOutboundMessage(ctx, oru)
	if err != nil {
		return err
	}
	return s.PostMessage(ctx, msg.ID)
}

func (s *Service) generateORU(cfg *trustomer.Config, data ORUData) (string, error) {
	var missing []string
	if data.Patient == nil {
		missing = append(missing, "patient")
	}
	if data.Encounter == nil {
		missing = append(missing, "encounter")
	}
	if data.ObservationSet == nil {
		missing = append(missing, "observation_set")
	}
	if len(missing) > 0 {
		return "", validationf("Missing data in action: %s", strings.Join(missing, ", "))
	}

	oruConfig := hl7v2.ORUConfig{
		SendingApplication:   cfg.HL7Config.OutgoingSendingApplication,
		SendingFacility:      cfg.HL7Config.OutgoingSendingFacility,
		ReceivingApplication: cfg.HL7Config.OutgoingReceivingApplication,
		ReceivingFacility:    cfg.HL7Config.OutgoingReceivingFacility,
		ProcessingID:         cfg.HL7Config.OutgoingProcessingID,
		TimestampFormat:      cfg.HL7Config.OutgoingTimestampFormat,
		Location:             s.loc,
		OxygenMasks:          cfg.SendConfig.OxygenMasks,
	}
	oru, err := hl7v2.GenerateORU(oruConfig, *data.Patient, *data.Encounter, *data.ObservationSet, data.Clinician, time.Now())
	if err != nil {
		return "", validationf("%s", err)
	}
	log.Debug().Str("oru_message", strings.ReplaceAll(oru, "\r", "\n")).Msg("generated ORU message")
	return s.transform.TransformOutgoing(oru), nil
}

// saveOutboundMessage stores a generated HL7v2 message bound for the
// integration engine, with its metadata lifted from the message itself.
func (s *Service) saveOutboundMessage(ctx context.Context, content string) (*Message, error) {
	parsed, err := hl7v2.Parse(content)
	if err != nil {
		return nil, fmt.Errorf("parse generated message: %w", err)
	}

	msg := &Message{
		ID:                 uuid.New(),
		Content:            content,
		SrcDescription:     SystemDHOS,
		DstDescription:     SystemTIE,
		PatientIdentifiers: parsed.PatientIdentifiers(),
	}
	messageType := parsed.MessageTypeField()
	msg.MessageType = &messageType
	if iso, err := parsed.MessageDatetimeISO8601(s.loc); err == nil {
		if sentAt, err := hl7v2.ParseISO8601(iso); err == nil {
			msg.SentAt = &sentAt
		}
	}
	controlID := parsed.ControlID()
	msg.MessageControlID = &controlID

	if err := s.repo.Create(ctx, msg); err != nil {
		return nil, err
	}
	log.Debug().Str("message_uuid", msg.ID.String()).Msg("HL7 message saved")
	return msg, nil
}

// PostMessage forwards a stored outbound message to its destination and
// records the acknowledgement. HL7v2 messages go to the EPR service
// adapter; CDA documents go to Mirth.
func (s *Service) PostMessage(ctx context.Context, id uuid.UUID) error {
	msg, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if msg.DstDescription == SystemMirth {
		return s.postCDAMessage(ctx, msg)
	}

	controlID := ""
	if msg.MessageControlID != nil {
		controlID = *msg.MessageControlID
	}
	log.Info().Str("message_control_id", controlID).Msg("sending HL7 message to EPR service adapter")

	ack, err := s.epr.PostHL7Message(ctx, msg.Content, "")
	if err != nil {
		var unavailable *epr.UnavailableError
		if errors.As(err, &unavailable) || errors.Is(err, epr.ErrScopeUnavailable) {
			return err
		}
		return &ValidationError{msg: err.Error()}
	}
	msg.Ack = &ack

	normalized := strings.ReplaceAll(strings.ReplaceAll(ack, "\r\n", "\r"), "\n", "\r")
	parsed, err := hl7v2.Parse(normalized)
	if err != nil {
		return fmt.Errorf("parse adapter ACK: %w", err)
	}
	if code := parsed.Get("MSA.F1"); code == "AA" {
		log.Info().Str("message_control_id", controlID).Msg("message has been successfully received")
	} else {
		log.Error().Str("message_control_id", controlID).Str("ack_status", code).
			Msg("message did not receive a successful acknowledgement")
	}

	msg.IsProcessed = true
	return s.repo.Update(ctx, msg)
}

// CreateCDAMessage stores an HL7v3 CDA document bound for Mirth.
func (s *Service) CreateCDAMessage(ctx context.Context, content string) (uuid.UUID, error) {
	now := time.Now().UTC()
	msg := &Message{
		ID:             uuid.New(),
		Content:        content,
		SrcDescription: SystemDHOS,
		DstDescription: SystemMirth,
		SentAt:         &now,
	}
	if err := s.repo.Create(ctx, msg); err != nil {
		return uuid.Nil, err
	}
	log.Debug().Str("message_uuid", msg.ID.String()).Msg("HL7 CDA message saved")
	return msg.ID, nil
}

func (s *Service) postCDAMessage(ctx context.Context, msg *Message) error {
	if s.mirth == nil || !s.mirth.Configured() {
		log.Warn().Msg("post CDA message called, Mirth host not configured")
		return nil
	}
	response, err := s.mirth.AcceptMessage(ctx, msg.Content)
	if err != nil {
		return err
	}
	log.Debug().Str("response", response).Msg("CDA message accepted")
	msg.IsProcessed = true
	return s.repo.Update(ctx, msg)
}

// CDAConfigured reports whether a Mirth destination has been set up.
func (s *Service) CDAConfigured() bool {
	return s.mirth != nil && s.mirth.Configured()
}
