package hl7v2

import (
	"fmt"
	"strings"
)

// Message represents a parsed HL7v2 message. Segments are kept in wire
// order; repeated segments (e.g. multiple OBX) appear as separate entries.
type Message struct {
	Raw      string
	Segments []Segment
}

// Segment represents a single HL7v2 segment.
type Segment struct {
	Name   string // e.g. "MSH", "PID", "PV1"
	Fields []Field
}

// Field represents a field which can have repetitions (~) and components (^).
type Field struct {
	Value   string
	Repeats [][]string // repetition -> components
}

// Parse parses raw HL7v2 text into a structured Message.
// It supports \r, \n, and \r\n line endings for segment separation;
// the first segment must be MSH.
func Parse(raw string) (*Message, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("hl7v2: message is empty")
	}

	// Normalize line endings: segments are delimited by carriage returns.
	text := strings.ReplaceAll(raw, "\r\n", "\r")
	text = strings.ReplaceAll(text, "\n", "\r")

	var segmentLines []string
	for _, line := range strings.Split(text, "\r") {
		line = strings.TrimSpace(line)
		if line != "" {
			segmentLines = append(segmentLines, line)
		}
	}

	if len(segmentLines) == 0 {
		return nil, fmt.Errorf("hl7v2: no segments found")
	}
	if !strings.HasPrefix(segmentLines[0], "MSH") {
		return nil, fmt.Errorf("hl7v2: first segment must be MSH")
	}

	msg := &Message{Raw: text}
	for _, line := range segmentLines {
		seg, err := parseSegment(line)
		if err != nil {
			return nil, fmt.Errorf("hl7v2: failed to parse segment: %w", err)
		}
		msg.Segments = append(msg.Segments, seg)
	}

	return msg, nil
}

// parseSegment parses a single segment line into a Segment struct.
func parseSegment(line string) (Segment, error) {
	if len(line) < 3 {
		return Segment{}, fmt.Errorf("segment too short: %q", line)
	}

	seg := Segment{}

	// MSH is special: the field separator (|) is MSH-1 itself.
	if strings.HasPrefix(line, "MSH") {
		seg.Name = "MSH"
		if len(line) < 4 {
			return seg, nil
		}

		fieldSep := string(line[3])
		rest := line[4:] // everything after "MSH|"

		// Fields[0] = MSH-1 = the separator itself, Fields[1] = MSH-2
		// (encoding characters), Fields[2] = MSH-3, and so on.
		seg.Fields = append(seg.Fields, Field{Value: fieldSep, Repeats: [][]string{{fieldSep}}})
		for _, part := range strings.Split(rest, fieldSep) {
			seg.Fields = append(seg.Fields, parseField(part))
		}
		return seg, nil
	}

	parts := strings.SplitN(line, "|", 2)
	seg.Name = parts[0]
	if len(parts) > 1 {
		for _, f := range strings.Split(parts[1], "|") {
			seg.Fields = append(seg.Fields, parseField(f))
		}
	}
	return seg, nil
}

// parseField parses a single field, handling repetitions (~) and components (^).
func parseField(raw string) Field {
	f := Field{Value: raw}
	for _, rep := range strings.Split(raw, "~") {
		f.Repeats = append(f.Repeats, strings.Split(rep, "^"))
	}
	return f
}

// GetSegment returns the first segment with the given name, or nil if not found.
func (m *Message) GetSegment(name string) *Segment {
	for i := range m.Segments {
		if m.Segments[i].Name == name {
			return &m.Segments[i]
		}
	}
	return nil
}

// ContainsSegment reports whether a segment with the given name is present.
func (m *Message) ContainsSegment(name string) bool {
	return m.GetSegment(name) != nil
}

// field returns the Field at the given 1-based index, or nil when absent.
// MSH needs no shift: Fields[0] already holds MSH-1 (the separator itself).
func (s *Segment) field(index int) *Field {
	idx := index - 1
	if idx < 0 || idx >= len(s.Fields) {
		return nil
	}
	return &s.Fields[idx]
}
