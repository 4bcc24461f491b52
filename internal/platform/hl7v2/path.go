package hl7v2

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// hl7Null is the HL7 representation of an explicit null value. A field
// containing just two double quotes is treated the same as an absent field.
const hl7Null = `""`

// pathRef is a parsed HL7 path such as "PID.F3.R2.C5". Indices are
// 1-based; zero means the level was not specified.
type pathRef struct {
	segment      string
	field        int
	repetition   int
	component    int
	subcomponent int
}

func parsePath(path string) (pathRef, error) {
	parts := strings.Split(path, ".")
	if len(parts) == 0 || parts[0] == "" {
		return pathRef{}, fmt.Errorf("hl7v2: empty path")
	}
	ref := pathRef{segment: parts[0]}
	for _, p := range parts[1:] {
		if len(p) < 2 {
			return pathRef{}, fmt.Errorf("hl7v2: bad path element %q in %q", p, path)
		}
		n, err := strconv.Atoi(p[1:])
		if err != nil || n < 1 {
			return pathRef{}, fmt.Errorf("hl7v2: bad path index %q in %q", p, path)
		}
		switch p[0] {
		case 'F':
			ref.field = n
		case 'R':
			ref.repetition = n
		case 'C':
			ref.component = n
		case 'S':
			ref.subcomponent = n
		default:
			return pathRef{}, fmt.Errorf("hl7v2: bad path element %q in %q", p, path)
		}
	}
	return ref, nil
}

// Get returns the value at the given HL7 path (e.g. "PID.F5.R1.C1"), or
// the empty string when the path does not resolve or holds an HL7 null.
// A path ending at the field level returns the full raw field text.
func (m *Message) Get(path string) string {
	return m.GetDefault(path, "")
}

// GetDefault is Get with a caller-supplied default for missing values.
func (m *Message) GetDefault(path, def string) string {
	ref, err := parsePath(path)
	if err != nil {
		return def
	}
	seg := m.GetSegment(ref.segment)
	if seg == nil {
		return def
	}
	if ref.field == 0 {
		return def
	}
	f := seg.field(ref.field)
	if f == nil {
		return def
	}

	value := f.Value
	if ref.repetition > 0 || ref.component > 0 {
		rep := ref.repetition
		if rep == 0 {
			rep = 1
		}
		if rep > len(f.Repeats) {
			return def
		}
		components := f.Repeats[rep-1]
		if ref.component > 0 {
			if ref.component > len(components) {
				return def
			}
			value = components[ref.component-1]
			if ref.subcomponent > 0 {
				subs := strings.Split(value, "&")
				if ref.subcomponent > len(subs) {
					return def
				}
				value = subs[ref.subcomponent-1]
			}
		} else {
			value = strings.Join(components, "^")
		}
	}

	if value == hl7Null {
		return def
	}
	return value
}

// MessageTypeField returns the full MSH-9 field, e.g. "ADT^A01".
func (m *Message) MessageTypeField() string {
	return m.Get("MSH.F9")
}

// ControlID returns the message control id from MSH-10.
func (m *Message) ControlID() string {
	return m.Get("MSH.F10.R1.C1")
}

// MessageDatetimeISO8601 returns MSH-7 as an ISO8601 datetime. Zoneless
// timestamps are interpreted in the given location.
func (m *Message) MessageDatetimeISO8601(loc *time.Location) (string, error) {
	return m.ISO8601DatetimeByPath("MSH.F7", loc)
}

// ISO8601DatetimeByPath parses the HL7 timestamp at the given path and
// returns it as ISO8601 with millisecond precision. Returns the empty
// string when the path is absent.
func (m *Message) ISO8601DatetimeByPath(path string, loc *time.Location) (string, error) {
	raw := m.Get(path)
	if raw == "" {
		return "", nil
	}
	t, err := ParseTimestamp(raw, loc)
	if err != nil {
		return "", fmt.Errorf("hl7v2: parse timestamp at %s: %w", path, err)
	}
	return FormatISO8601(t), nil
}

// ISO8601DateByPath parses the HL7 timestamp at the given path and returns
// the date portion as "2006-01-02", or the empty string when absent.
func (m *Message) ISO8601DateByPath(path string) (string, error) {
	raw := m.Get(path)
	if raw == "" {
		return "", nil
	}
	t, err := ParseTimestamp(raw, time.UTC)
	if err != nil {
		return "", fmt.Errorf("hl7v2: parse timestamp at %s: %w", path, err)
	}
	return t.Format("2006-01-02"), nil
}

// nhsIdentifierKinds lists the identifier type codes that all denote an
// NHS number in PID-3 / MRG-1 repetitions.
var nhsIdentifierKinds = []string{"NHS", "NHSNBR", "NHSNMBR"}

// PatientIdentifier scans the PID-3 repetitions for an identifier whose
// type code (component 5) matches the given kind and returns its value
// (component 1). Kind "NHS" also matches NHSNBR and NHSNMBR.
func (m *Message) PatientIdentifier(kind string) string {
	return m.identifierFromField("PID", 3, kind)
}

// MergedPatientIdentifier is PatientIdentifier over the MRG-1 field,
// holding the identifiers a merge message retires.
func (m *Message) MergedPatientIdentifier(kind string) string {
	return m.identifierFromField("MRG", 1, kind)
}

func (m *Message) identifierFromField(segment string, field int, kind string) string {
	kinds := []string{kind}
	if kind == "NHS" {
		kinds = nhsIdentifierKinds
	}
	seg := m.GetSegment(segment)
	if seg == nil {
		return ""
	}
	f := seg.field(field)
	if f == nil {
		return ""
	}
	for i := range f.Repeats {
		code := m.Get(fmt.Sprintf("%s.F%d.R%d.C5", segment, field, i+1))
		for _, k := range kinds {
			if code == k {
				return m.Get(fmt.Sprintf("%s.F%d.R%d.C1", segment, field, i+1))
			}
		}
	}
	return ""
}

// PatientIdentifiers returns the identifiers the message carries, keyed
// the way downstream consumers search for them. Absent identifiers are
// omitted.
func (m *Message) PatientIdentifiers() map[string]string {
	ids := make(map[string]string)
	if nhs := m.PatientIdentifier("NHS"); nhs != "" {
		ids["NHS number"] = nhs
	}
	if mrn := m.PatientIdentifier("MRN"); mrn != "" {
		ids["MRN"] = mrn
	}
	if visit := m.Get("PV1.F19"); visit != "" {
		ids["Visit ID"] = visit
	}
	return ids
}
