package hl7v2

// Error code literals carried in the ERR segment of negative
// acknowledgements. Downstream integration engines match on these
// strings, so they are part of the wire contract.
const (
	ErrCodeApplicationReject = "Hl7ApplicationRejectException"
	ErrCodeApplicationError  = "Hl7ApplicationErrorException"
)

// RejectError indicates a message the connector refuses outright, such
// as an unexpected type or a missing patient identifier. It maps to an
// AR acknowledgement.
type RejectError struct {
	Reason string
}

func (e *RejectError) Error() string { return e.Reason }

// ApplicationError indicates a message of an accepted type that cannot
// be processed, such as a missing PID segment. It maps to an AE
// acknowledgement.
type ApplicationError struct {
	Reason string
}

func (e *ApplicationError) Error() string { return e.Reason }
