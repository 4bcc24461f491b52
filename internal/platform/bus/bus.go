// Package bus publishes connector events onto the platform message bus.
// Downstream services (encounter, patient record) consume the actions a
// processed HL7 message produces.
package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// SubjectMessageUpdated carries the actions derived from a processed
// inbound HL7 message. The suffix is the DHOS routing code for EPR
// integration events and is shared with the consumers, so it must not
// change.
const SubjectMessageUpdated = "dhos.24891000000101"

// Publisher sends connector events to the bus.
type Publisher interface {
	Publish(subject string, payload any) error
	Close()
}

// NATSPublisher is a Publisher backed by a NATS connection.
type NATSPublisher struct {
	conn *nats.Conn
}

// Connect establishes a NATS connection with reconnect behaviour suited
// to a long-lived service.
func Connect(url string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("hl7-connector"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("bus: connect to nats: %w", err)
	}
	return &NATSPublisher{conn: conn}, nil
}

// Publish marshals payload as JSON and publishes it on subject.
func (p *NATSPublisher) Publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("bus: marshal payload: %w", err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("bus: publish to %s: %w", subject, err)
	}
	log.Debug().Str("subject", subject).Int("bytes", len(data)).Msg("published message")
	return nil
}

// Close flushes and drains the connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		log.Warn().Err(err).Msg("nats drain failed")
	}
}
