package hl7v2

import "time"

// Action is a unit of work derived from an inbound ADT message and
// published for the rest of the platform to process.
type Action struct {
	Name string         `json:"name"`
	Data map[string]any `json:"data"`
}

// GenerateActions translates a validated ADT message into platform
// actions. The patient action is always present; location and encounter
// actions are added only when the message carries an admission datetime
// in PV1-44, since messages without one (seen in A08s) cannot update
// encounter state safely.
func (m *Message) GenerateActions(loc *time.Location) ([]Action, error) {
	patient, err := m.generatePatientAction()
	if err != nil {
		return nil, err
	}
	actions := []Action{patient}

	if m.ContainsSegment("PV1") && m.Get("PV1.F44") != "" {
		location := m.generateLocationAction()
		encounter, err := m.generateEncounterAction(loc)
		if err != nil {
			return nil, err
		}
		actions = append(actions, location, encounter)
	}
	return actions, nil
}

func (m *Message) generatePatientAction() (Action, error) {
	data := map[string]any{
		"first_name": m.Get("PID.F5.R1.C2"),
		"last_name":  m.Get("PID.F5.R1.C1"),
		"sex_sct":    SexToSCT(m.Get("PID.F8")),
	}

	if nhs := m.PatientIdentifier("NHS"); nhs != "" {
		data["nhs_number"] = nhs
	}
	if mrn := m.PatientIdentifier("MRN"); mrn != "" {
		data["mrn"] = mrn
	}
	if data["nhs_number"] == nil && data["mrn"] == nil {
		return Action{}, &ApplicationError{Reason: "No patient identifiers in message"}
	}

	if m.Get("PID.F7") != "" {
		dob, err := m.ISO8601DateByPath("PID.F7")
		if err != nil {
			return Action{}, err
		}
		data["date_of_birth"] = dob
	}
	if m.Get("PID.F29") != "" {
		dod, err := m.ISO8601DateByPath("PID.F29")
		if err != nil {
			return Action{}, err
		}
		data["date_of_death"] = dod
	}

	// Merge messages retire a previous identifier; pass it along so the
	// platform can repoint records. A35 (account number merge) is left out
	// because account numbers are not tracked.
	trigger := m.Get("MSH.F9.R1.C2")
	if trigger == "A34" || trigger == "A40" {
		if prev := m.MergedPatientIdentifier("NHS"); prev != "" {
			data["previous_nhs_number"] = prev
		}
		if prev := m.MergedPatientIdentifier("MRN"); prev != "" {
			data["previous_mrn"] = prev
		}
	}

	return Action{Name: "process_patient", Data: data}, nil
}

func (m *Message) generateLocationAction() Action {
	data := map[string]any{
		"location": m.locationFromField("PV1.F3"),
	}
	if m.Get("PV1.F6.R1.C1") != "" {
		data["previous_location"] = m.locationFromField("PV1.F6")
	}
	return Action{Name: "process_location", Data: data}
}

func (m *Message) generateEncounterAction(loc *time.Location) (Action, error) {
	trigger := m.Get("MSH.F9.R1.C2")

	admittedAt, err := m.ISO8601DatetimeByPath("PV1.F44", loc)
	if err != nil {
		return Action{}, err
	}

	deceased, err := m.ISO8601DateByPath("PID.F29")
	if err != nil {
		return Action{}, err
	}

	data := map[string]any{
		"epr_encounter_id":    m.Get("PV1.F19"),
		"location":            m.locationFromField("PV1.F3"),
		"encounter_type":      m.Get("PV1.F2"),
		"admitted_at":         admittedAt,
		"admission_cancelled": trigger == "A11" || trigger == "A23" || trigger == "A27" || trigger == "A38",
		"transfer_cancelled":  trigger == "A12",
		"discharge_cancelled": trigger == "A13",
		"encounter_moved":     trigger == "A44",
		"patient_deceased":    deceased != "",
	}

	if m.Get("PV1.F45") != "" {
		dischargedAt, err := m.ISO8601DatetimeByPath("PV1.F45", loc)
		if err != nil {
			return Action{}, err
		}
		data["discharged_at"] = dischargedAt
	}

	if m.ContainsSegment("MRG") {
		data["parent_encounter_id"] = m.Get("MRG.F5.R1.C1")
		data["epr_previous_location_code"] = m.Get("MRG.F6.R1.C1")
	}

	if m.Get("PV1.F6.R1.C1") != "" {
		data["previous_location"] = m.locationFromField("PV1.F6")
	}

	return Action{Name: "process_encounter", Data: data}, nil
}

func (m *Message) locationFromField(path string) map[string]any {
	return map[string]any{
		"epr_ward_code": m.Get(path + ".R1.C1"),
		"epr_bay_code":  m.Get(path + ".R1.C2"),
		"epr_bed_code":  m.Get(path + ".R1.C3"),
	}
}
