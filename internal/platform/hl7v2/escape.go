package hl7v2

import "strings"

// escaper rewrites reserved HL7 delimiter characters into their escape
// sequences. The backslash rule runs first so it does not re-escape the
// sequences the other rules emit.
var escaper = strings.NewReplacer(
	`\`, `\E\`,
	`|`, `\F\`,
	`~`, `\R\`,
	`^`, `\S\`,
	`&`, `\T\`,
)

// Escape renders a value safe for inclusion in an HL7 component.
func Escape(s string) string {
	return escaper.Replace(s)
}
