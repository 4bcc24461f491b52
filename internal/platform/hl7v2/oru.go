package hl7v2

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// validScoreSystems lists the early warning score systems an ORU message
// may report.
var validScoreSystems = map[string]bool{
	"NEWS2": true,
	"MEOWS": true,
}

// ORUConfig carries the customer-specific values used when rendering an
// outgoing ORU message. TimestampFormat is a strftime-style format and
// Location is the timezone all outgoing datetimes are rendered in.
type ORUConfig struct {
	SendingApplication   string
	SendingFacility      string
	ReceivingApplication string
	ReceivingFacility    string
	ProcessingID         string
	TimestampFormat      string
	Location             *time.Location
	OxygenMasks          []OxygenMask
}

// OxygenMask maps an oxygen mask name onto the code sent to the EPR. A
// code may contain the placeholder {mask_percent}, replaced with the
// recorded percentage.
type OxygenMask struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// ORUPatient identifies the patient an observation set belongs to.
type ORUPatient struct {
	UUID           string `json:"uuid"`
	HospitalNumber string `json:"hospital_number"`
	NHSNumber      string `json:"nhs_number"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Sex            string `json:"sex"`
	DOB            string `json:"dob"`
}

// ORUEncounter locates the patient's hospital encounter. An encounter
// with no EPR encounter id produces no PV1 segment.
type ORUEncounter struct {
	EPREncounterID  *string `json:"epr_encounter_id"`
	LocationODSCode string  `json:"location_ods_code"`
	AdmittedAt      string  `json:"admitted_at"`
}

// ORUClinician identifies who recorded the observation set. The send
// entry identifier arrives as a bare number from some upstream systems,
// hence json.Number.
type ORUClinician struct {
	SendEntryIdentifier json.Number `json:"send_entry_identifier"`
	FirstName           string      `json:"first_name"`
	LastName            string      `json:"last_name"`
}

// ObservationSet is a scored set of vital sign observations.
type ObservationSet struct {
	UUID              string        `json:"uuid"`
	ScoreSystem       string        `json:"score_system"`
	ScoreValue        *int          `json:"score_value"`
	ScoreSeverity     string        `json:"score_severity"`
	SpO2Scale         int           `json:"spo2_scale"`
	RecordTime        string        `json:"record_time"`
	TimeNextObsSetDue string        `json:"time_next_obs_set_due"`
	MinsLate          int           `json:"mins_late"`
	OBXReferenceRange string        `json:"obx_reference_range"`
	OBXAbnormalFlags  string        `json:"obx_abnormal_flags"`
	Observations      []Observation `json:"observations"`
}

// Observation is a single vital sign reading within an observation set.
type Observation struct {
	ObservationType   string               `json:"observation_type"`
	ObservationValue  *float64             `json:"observation_value"`
	ObservationUnit   string               `json:"observation_unit"`
	ObservationString string               `json:"observation_string"`
	PatientRefused    bool                 `json:"patient_refused"`
	ScoreValue        *int                 `json:"score_value"`
	MeasuredTime      string               `json:"measured_time"`
	Metadata          *ObservationMetadata `json:"observation_metadata"`
}

// ObservationMetadata holds per-observation detail recorded alongside
// the reading itself.
type ObservationMetadata struct {
	PatientPosition      string `json:"patient_position"`
	Mask                 string `json:"mask"`
	MaskPercent          *int   `json:"mask_percent"`
	GCSEyes              *int   `json:"gcs_eyes"`
	GCSEyesDescription   string `json:"gcs_eyes_description"`
	GCSVerbal            *int   `json:"gcs_verbal"`
	GCSVerbalDescription string `json:"gcs_verbal_description"`
	GCSMotor             *int   `json:"gcs_motor"`
	GCSMotorDescription  string `json:"gcs_motor_description"`
}

// GenerateORU renders an observation set as an ORU^R01 message: an MSH
// header, a PID segment, a PV1 segment when the encounter is known to the
// EPR, an OBR segment and a series of OBX segments carrying the overall
// score followed by the individual vitals. The message control id is
// derived from the observation set UUID so regenerating the same set
// yields the same id.
func GenerateORU(cfg ORUConfig, patient ORUPatient, encounter ORUEncounter, obsSet ObservationSet, clinician *ORUClinician, now time.Time) (string, error) {
	b := &oruBuilder{cfg: cfg}
	if clinician != nil {
		b.collector = fmt.Sprintf("%s^%s^%s",
			clinician.SendEntryIdentifier, Escape(clinician.LastName), Escape(clinician.FirstName))
	}

	controlID := fmt.Sprintf("%x", md5.Sum([]byte(obsSet.UUID)))[:20]
	msh := fmt.Sprintf("MSH|^~\\&|%s|%s|%s|%s|%s||ORU^R01^ORU_R01|%s|%s|2.6",
		Escape(cfg.SendingApplication),
		Escape(cfg.SendingFacility),
		Escape(cfg.ReceivingApplication),
		Escape(cfg.ReceivingFacility),
		FormatDatetime(now, cfg.TimestampFormat, cfg.Location),
		controlID,
		Escape(cfg.ProcessingID),
	)

	pid, err := b.pidSegment(patient)
	if err != nil {
		return "", err
	}
	pv1, err := b.pv1Segment(encounter)
	if err != nil {
		return "", err
	}
	obr, err := b.obrSegment(obsSet)
	if err != nil {
		return "", err
	}

	if err := b.addOverallScore(obsSet); err != nil {
		return "", err
	}
	if err := b.addTimeNextDue(obsSet); err != nil {
		return "", err
	}
	if err := b.addMinsLate(obsSet); err != nil {
		return "", err
	}
	obs := obsSet.Observations
	if err := b.addVital(obs, "heart_rate", "HR", "HRScore", roundedValue, true); err != nil {
		return "", err
	}
	if err := b.addVital(obs, "respiratory_rate", "RR", "RRScore", roundedValue, true); err != nil {
		return "", err
	}
	if err := b.addVital(obs, "diastolic_blood_pressure", "DBP", "DBPScore", roundedValue, false); err != nil {
		return "", err
	}
	if err := b.addVital(obs, "systolic_blood_pressure", "SBP", "SBPScore", roundedValue, true); err != nil {
		return "", err
	}
	if err := b.addBloodPressurePosture(obs); err != nil {
		return "", err
	}
	if err := b.addVital(obs, "spo2", "SPO2", "SPO2Score", roundedValue, true); err != nil {
		return "", err
	}
	if err := b.addOxygenTherapy(obs); err != nil {
		return "", err
	}
	if err := b.addVital(obs, "temperature", "TEMP", "TEMPScore", rawValue, true); err != nil {
		return "", err
	}
	if err := b.addACVPU(obs); err != nil {
		return "", err
	}
	if err := b.addGCS(obs); err != nil {
		return "", err
	}
	if err := b.addNurseConcern(obs); err != nil {
		return "", err
	}

	segments := []string{msh, pid}
	if pv1 != "" {
		segments = append(segments, pv1)
	}
	segments = append(segments, obr)
	segments = append(segments, b.obx...)
	return strings.Join(segments, "\r"), nil
}

type oruBuilder struct {
	cfg       ORUConfig
	collector string
	obx       []string
}

func (b *oruBuilder) hl7Datetime(iso string) (string, error) {
	return ISO8601ToHL7Datetime(iso, b.cfg.TimestampFormat, b.cfg.Location)
}

func (b *oruBuilder) pidSegment(patient ORUPatient) (string, error) {
	var identifiers []string
	if mrn := Escape(patient.HospitalNumber); mrn != "" {
		identifiers = append(identifiers, mrn+"^^^^MRN")
	}
	if nhs := Escape(patient.NHSNumber); nhs != "" {
		identifiers = append(identifiers, nhs+"^^^^NHS")
	}

	dob := ""
	if patient.DOB != "" {
		t, err := ParseISO8601(patient.DOB)
		if err != nil {
			return "", fmt.Errorf("invalid patient date of birth: %w", err)
		}
		dob = t.Format("20060102")
	}

	return fmt.Sprintf("PID|1|%s|%s||%s^%s||%s|%s",
		Escape(patient.UUID),
		strings.Join(identifiers, "~"),
		Escape(patient.LastName),
		Escape(patient.FirstName),
		dob,
		SCTToSex(patient.Sex),
	), nil
}

func (b *oruBuilder) pv1Segment(encounter ORUEncounter) (string, error) {
	if encounter.EPREncounterID == nil {
		return "", nil
	}
	admitted, err := b.hl7Datetime(encounter.AdmittedAt)
	if err != nil {
		return "", fmt.Errorf("invalid encounter admission time: %w", err)
	}
	// The ODS code is a full field and may legitimately contain component
	// separators, so it is not escaped.
	return fmt.Sprintf("PV1|1||%s||||||||||||||||%s|||||||||||||||||||||||||%s",
		encounter.LocationODSCode, Escape(*encounter.EPREncounterID), admitted), nil
}

func (b *oruBuilder) obrSegment(obsSet ObservationSet) (string, error) {
	recorded, err := b.hl7Datetime(obsSet.RecordTime)
	if err != nil {
		return "", fmt.Errorf("invalid observation set record time: %w", err)
	}
	return fmt.Sprintf("OBR|1||%s|EWS|||%s|||%s|||||||||||||||F",
		Escape(obsSet.UUID), recorded, b.collector), nil
}

type obxParams struct {
	category       string
	code           string
	value          string
	datetime       string
	unit           string
	collector      string
	referenceRange string
	abnormalFlags  string
	patientRefused bool
}

func (b *oruBuilder) appendOBX(p obxParams) {
	unit := ""
	if p.unit != "" {
		unit = "^" + p.unit
	}
	collector := ""
	if p.collector != "" {
		collector = "||" + p.collector
	}
	value := p.value
	if p.patientRefused {
		value = "patient_refused"
	}
	b.obx = append(b.obx, fmt.Sprintf("OBX|%d|%s|%s||%s|%s|%s|%s|||F|||%s%s",
		len(b.obx)+1, p.category, p.code, value, unit,
		p.referenceRange, p.abnormalFlags, p.datetime, collector))
}

func (b *oruBuilder) addOverallScore(obsSet ObservationSet) error {
	recorded, err := b.hl7Datetime(obsSet.RecordTime)
	if err != nil {
		return err
	}

	if obsSet.ScoreSystem != "" {
		scoreSystem := strings.ToUpper(obsSet.ScoreSystem)
		if !validScoreSystems[scoreSystem] {
			return fmt.Errorf("unexpected score system '%s'", obsSet.ScoreSystem)
		}
		b.appendOBX(obxParams{
			category: "ST", code: "ScoringSystem",
			value: Escape(scoreSystem), datetime: recorded,
		})
	}

	// The SpO2 scale only applies to NEWS2 scoring.
	if strings.EqualFold(obsSet.ScoreSystem, "NEWS2") && obsSet.SpO2Scale != 0 {
		b.appendOBX(obxParams{
			category: "ST", code: "SpO2Scale",
			value:    Escape(fmt.Sprintf("Scale %d", obsSet.SpO2Scale)),
			datetime: recorded,
		})
	}

	if obsSet.ScoreValue != nil {
		b.appendOBX(obxParams{
			category: "NM", code: "TotalScore",
			value:          strconv.Itoa(*obsSet.ScoreValue),
			datetime:       recorded,
			referenceRange: Escape(obsSet.OBXReferenceRange),
			abnormalFlags:  Escape(obsSet.OBXAbnormalFlags),
		})
	}

	if obsSet.ScoreSeverity != "" {
		b.appendOBX(obxParams{
			category: "ST", code: "Severity",
			value: obsSet.ScoreSeverity, datetime: recorded,
		})
	}
	return nil
}

func (b *oruBuilder) addTimeNextDue(obsSet ObservationSet) error {
	if obsSet.TimeNextObsSetDue == "" {
		return nil
	}
	recorded, err := b.hl7Datetime(obsSet.RecordTime)
	if err != nil {
		return err
	}
	due, err := b.hl7Datetime(obsSet.TimeNextObsSetDue)
	if err != nil {
		return err
	}
	b.appendOBX(obxParams{
		category: "TS", code: "TimeNextObsSetDue",
		value: due, datetime: recorded,
	})
	return nil
}

func (b *oruBuilder) addMinsLate(obsSet ObservationSet) error {
	if obsSet.MinsLate == 0 {
		return nil
	}
	recorded, err := b.hl7Datetime(obsSet.RecordTime)
	if err != nil {
		return err
	}
	b.appendOBX(obxParams{
		category: "NM", code: "MinutesLate",
		value: strconv.Itoa(obsSet.MinsLate), datetime: recorded,
	})
	return nil
}

// addVital emits the standard pair of OBX segments for a numeric vital
// sign: the reading itself and its sub-score. When alwaysScore is false
// the score segment is only emitted if the observation carries one.
func (b *oruBuilder) addVital(observations []Observation, obsType, code, scoreCode string, format func(*float64) string, alwaysScore bool) error {
	obs := findObservation(observations, obsType)
	if obs == nil {
		return nil
	}
	measured, err := b.hl7Datetime(obs.MeasuredTime)
	if err != nil {
		return err
	}
	b.appendOBX(obxParams{
		category: "NM", code: code,
		value:          format(obs.ObservationValue),
		unit:           Escape(obs.ObservationUnit),
		datetime:       measured,
		collector:      b.collector,
		patientRefused: obs.PatientRefused,
	})
	if alwaysScore || obs.ScoreValue != nil {
		b.appendOBX(obxParams{
			category: "NM", code: scoreCode,
			value: scoreValue(obs.ScoreValue), datetime: measured,
		})
	}
	return nil
}

func (b *oruBuilder) addBloodPressurePosture(observations []Observation) error {
	// The patient position is recorded against either the systolic or the
	// diastolic reading.
	var position, measuredISO string
	for _, obsType := range []string{"systolic_blood_pressure", "diastolic_blood_pressure"} {
		obs := findObservation(observations, obsType)
		if obs != nil && obs.Metadata != nil && obs.Metadata.PatientPosition != "" {
			position = obs.Metadata.PatientPosition
			measuredISO = obs.MeasuredTime
			break
		}
	}
	if position == "" {
		return nil
	}
	measured, err := b.hl7Datetime(measuredISO)
	if err != nil {
		return err
	}
	b.appendOBX(obxParams{
		category: "ST", code: "BPPOS",
		value: Escape(position), datetime: measured, collector: b.collector,
	})
	return nil
}

func (b *oruBuilder) addOxygenTherapy(observations []Observation) error {
	obs := findObservation(observations, "o2_therapy_status")
	if obs == nil {
		return nil
	}
	measured, err := b.hl7Datetime(obs.MeasuredTime)
	if err != nil {
		return err
	}
	b.appendOBX(obxParams{
		category: "NM", code: "O2Rate",
		value:     rawValue(obs.ObservationValue),
		unit:      Escape(obs.ObservationUnit),
		datetime:  measured,
		collector: b.collector,
	})

	if maskCode, maskName, ok := b.oxygenMask(obs); ok {
		b.appendOBX(obxParams{
			category: "CE", code: "O2Delivery",
			value:     Escape(maskCode) + "^" + Escape(maskName),
			datetime:  measured,
			collector: b.collector,
		})
	}

	if obs.ScoreValue != nil {
		b.appendOBX(obxParams{
			category: "NM", code: "O2Score",
			value: strconv.Itoa(*obs.ScoreValue), datetime: measured,
		})
	}
	return nil
}

// oxygenMask resolves the recorded mask name to the customer's mask code,
// filling in the mask percentage where the code calls for one. Room air
// is assumed when no percentage was recorded.
func (b *oruBuilder) oxygenMask(obs *Observation) (code, name string, ok bool) {
	if obs.Metadata == nil || obs.Metadata.Mask == "" {
		return "", "", false
	}
	name = obs.Metadata.Mask
	percent := "21"
	if obs.Metadata.MaskPercent != nil {
		percent = strconv.Itoa(*obs.Metadata.MaskPercent)
	}
	for _, mask := range b.cfg.OxygenMasks {
		if mask.Name == name {
			code = strings.ReplaceAll(mask.Code, "{mask_percent}", percent)
			break
		}
	}
	if obs.Metadata.MaskPercent != nil {
		name += fmt.Sprintf(" %d%%", *obs.Metadata.MaskPercent)
	}
	if code == "" {
		return "", "", false
	}
	return code, name, true
}

func (b *oruBuilder) addACVPU(observations []Observation) error {
	obs := findObservation(observations, "consciousness_acvpu")
	if obs == nil || obs.ObservationString == "" {
		return nil
	}
	measured, err := b.hl7Datetime(obs.MeasuredTime)
	if err != nil {
		return err
	}
	value := Escape(obs.ObservationString)
	b.appendOBX(obxParams{
		category: "CE", code: "ACVPU",
		value:     value[:1] + "^" + value,
		datetime:  measured,
		collector: b.collector,
	})
	b.appendOBX(obxParams{
		category: "NM", code: "ACVPUScore",
		value: scoreValue(obs.ScoreValue), datetime: measured,
	})
	return nil
}

func (b *oruBuilder) addGCS(observations []Observation) error {
	obs := findObservation(observations, "consciousness_gcs")
	if obs == nil {
		return nil
	}
	measured, err := b.hl7Datetime(obs.MeasuredTime)
	if err != nil {
		return err
	}

	if meta := obs.Metadata; meta != nil {
		components := []struct {
			code        string
			value       *int
			description string
		}{
			{"GCS-Eyes", meta.GCSEyes, meta.GCSEyesDescription},
			{"GCS-Verbal", meta.GCSVerbal, meta.GCSVerbalDescription},
			{"GCS-Motor", meta.GCSMotor, meta.GCSMotorDescription},
		}
		for _, c := range components {
			if c.value == nil || c.description == "" {
				continue
			}
			b.appendOBX(obxParams{
				category: "CE", code: c.code,
				value:     fmt.Sprintf("%d^%s", *c.value, Escape(c.description)),
				datetime:  measured,
				collector: b.collector,
			})
		}
	}

	total := ""
	if obs.ObservationValue != nil {
		total = strconv.Itoa(int(*obs.ObservationValue))
	}
	b.appendOBX(obxParams{
		category: "NM", code: "GCS",
		value: total, datetime: measured, collector: b.collector,
	})
	return nil
}

func (b *oruBuilder) addNurseConcern(observations []Observation) error {
	obs := findObservation(observations, "nurse_concern")
	if obs == nil {
		return nil
	}
	measured, err := b.hl7Datetime(obs.MeasuredTime)
	if err != nil {
		return err
	}
	for _, concern := range strings.Split(obs.ObservationString, ",") {
		b.appendOBX(obxParams{
			category: "ST", code: "NC",
			value:     Escape(strings.TrimSpace(concern)),
			datetime:  measured,
			collector: b.collector,
		})
	}
	return nil
}

// findObservation returns the first observation of the given type that
// actually carries a reading. Observations with no value, no string and
// no patient refusal have nothing to report.
func findObservation(observations []Observation, obsType string) *Observation {
	for i := range observations {
		obs := &observations[i]
		if obs.ObservationType != obsType {
			continue
		}
		if obs.ObservationValue == nil && obs.ObservationString == "" && !obs.PatientRefused {
			return nil
		}
		return obs
	}
	return nil
}

// rawValue renders a numeric reading exactly as recorded.
func rawValue(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// roundedValue renders a numeric reading rounded to the nearest integer.
func roundedValue(v *float64) string {
	if v == nil || *v == 0 {
		return ""
	}
	return strconv.Itoa(int(math.Round(*v)))
}

func scoreValue(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}
