package hl7v2

import (
	"fmt"
	"strings"
	"time"
)

// GenerateACK builds an acknowledgement for the message. The sending and
// receiving application/facility pairs are swapped relative to the
// original, the timestamp is now in the given location, and the control
// id, processing id and version of the original are carried through. When
// errorCode or errorMsg is set an ERR segment is appended.
func (m *Message) GenerateACK(ackCode, errorCode, errorMsg string, loc *time.Location, now time.Time) string {
	if loc == nil {
		loc = time.UTC
	}
	trigger := m.Get("MSH.F9.R1.C2")
	msgType := "ACK"
	if trigger != "" {
		msgType = "ACK^" + trigger
	}

	msh := fmt.Sprintf("MSH|^~\\&|%s|%s|%s|%s|%s||%s|%s|%s|%s",
		m.Get("MSH.F5"), // original receiving application
		m.Get("MSH.F6"), // original receiving facility
		m.Get("MSH.F3"), // original sending application
		m.Get("MSH.F4"), // original sending facility
		now.In(loc).Format("20060102150405"),
		msgType,
		m.ControlID(),
		m.Get("MSH.F11"),
		m.Get("MSH.F12"),
	)
	msa := fmt.Sprintf("MSA|%s|%s", ackCode, m.ControlID())

	segments := []string{msh, msa}
	if errorCode != "" || errorMsg != "" {
		segments = append(segments, fmt.Sprintf("ERR|||%s|E||||%s", errorCode, errorMsg))
	}
	return strings.Join(segments, "\r")
}
