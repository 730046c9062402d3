package cache

import "time"

// Outcomes recorded in the journal
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

// Entry represents one recorded build
type Entry struct {
	// Seq orders entries within a crate, assigned by Record
	Seq uint64 `cbor:"1,keyasint"`

	// Crate is the absolute path of the shader crate
	Crate string `cbor:"2,keyasint"`

	// OptionsDigest and SourceDigest are the hex fingerprints the build ran with
	OptionsDigest string `cbor:"3,keyasint"`
	SourceDigest  string `cbor:"4,keyasint"`

	// Outcome is OutcomeSucceeded or OutcomeFailed
	Outcome string `cbor:"5,keyasint"`

	// Reason the build ran, e.g. "sources changed"
	Reason string `cbor:"6,keyasint,omitempty"`

	// ErrorKind and Error describe a failed build
	ErrorKind string `cbor:"7,keyasint,omitempty"`
	Error     string `cbor:"8,keyasint,omitempty"`

	// Outputs lists the files written
	Outputs []string `cbor:"9,keyasint,omitempty"`

	// EntryPoints lists the emitted entry point names
	EntryPoints []string `cbor:"10,keyasint,omitempty"`

	Warnings []string `cbor:"11,keyasint,omitempty"`

	// Timestamp when the build finished
	Timestamp time.Time `cbor:"12,keyasint"`

	Duration time.Duration `cbor:"13,keyasint"`
}

// Success indicates if the build was successful
func (e *Entry) Success() bool {
	return e.Outcome == OutcomeSucceeded
}
