package hl7v2

import "fmt"

// adtTypeWhitelist lists the ADT trigger events the connector processes.
var adtTypeWhitelist = map[string]bool{
	"A01": true, // Admit
	"A02": true, // Transfer
	"A03": true, // Discharge
	"A04": true, // Register a patient
	"A05": true, // Pre-admit
	"A08": true, // Update patient information
	"A11": true, // Cancel admit
	"A12": true, // Cancel transfer
	"A13": true, // Cancel discharge
	"A14": true, // Pending admit
	"A15": true, // Pending transfer
	"A21": true, // Patient goes on "leave of absence"
	"A22": true, // Patient returns from "leave of absence"
	"A23": true, // Delete patient record
	"A26": true, // Cancel pending transfer
	"A27": true, // Cancel pending admit
	"A28": true, // Add person information
	"A31": true, // Update person information
	"A34": true, // Merge patient information - patient ID only
	"A35": true, // Merge patient information - account number only
	"A38": true, // Cancel pre-admit
	"A40": true, // Merge patient - patient identifier list
	"A44": true, // Move account information - patient account number
	"A52": true, // Cancel patient goes on "leave of absence"
	"A53": true, // Cancel patient returns from "leave of absence"
}

// encounterTypeBlacklist lists PV1-2 patient classes the connector does
// not track encounters for.
var encounterTypeBlacklist = map[string]bool{
	"WAITLIST":  true,
	"PREADMIT":  true,
	"RECURRING": true,
}

// Validate checks an inbound message against the connector's processing
// rules. It returns a RejectError for messages of the wrong kind and an
// ApplicationError for accepted kinds with unusable content.
func (m *Message) Validate() error {
	category := m.Get("MSH.F9.R1.C1")
	if category != "ADT" {
		return &RejectError{Reason: fmt.Sprintf("HL7 message of unexpected type '%s'", category)}
	}
	trigger := m.Get("MSH.F9.R1.C2")
	if !adtTypeWhitelist[trigger] {
		return &RejectError{Reason: fmt.Sprintf("HL7 message of unexpected ADT type '%s'", trigger)}
	}

	if !m.ContainsSegment("PID") {
		return &ApplicationError{Reason: "HL7 PID segment missing"}
	}
	if m.PatientIdentifier("NHS") == "" && m.PatientIdentifier("MRN") == "" {
		return &RejectError{Reason: "HL7 MRN and NHS number missing"}
	}

	if m.ContainsSegment("PV1") {
		encounterType := m.Get("PV1.F2")
		if encounterTypeBlacklist[encounterType] {
			return &ApplicationError{
				Reason: fmt.Sprintf("HL7 message concerns blacklisted encounter type '%s'", encounterType),
			}
		}
		if m.Get("PV1.F3.R1.C1") == "" {
			return &ApplicationError{
				Reason: "HL7 message contains an assigned patient location but the ward code is missing",
			}
		}
	}

	return nil
}
