package hl7v2

import "strings"

// SNOMED CT codes for administrative sex.
const (
	SexSCTMale          = "248153007"
	SexSCTFemale        = "248152002"
	SexSCTUnknown       = "184115007"
	SexSCTIndeterminate = "32570681000036106"
)

// eprSexCodes maps each SCT code to the values an EPR may use for that
// sex in PID-8. The first entry is the numeric code preferred on the way
// out.
var eprSexCodes = map[string][]string{
	SexSCTMale:          {"1", "M"},
	SexSCTFemale:        {"2", "F"},
	SexSCTUnknown:       {"3", "U"},
	SexSCTIndeterminate: {"4", "I"},
}

// SexToSCT maps a raw EPR sex value (numeric or letter code) onto a
// SNOMED CT code. Unrecognized values map to unknown.
func SexToSCT(raw string) string {
	raw = strings.ToUpper(raw)
	for sct, codes := range eprSexCodes {
		for _, c := range codes {
			if raw == c {
				return sct
			}
		}
	}
	return SexSCTUnknown
}

// SCTToSex maps a SNOMED CT sex code onto the numeric EPR code used in
// outgoing messages. Unrecognized codes map to unknown.
func SCTToSex(sct string) string {
	if codes, ok := eprSexCodes[sct]; ok {
		return codes[0]
	}
	return eprSexCodes[SexSCTUnknown][0]
}
