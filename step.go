package goingest

// Step defines a step within the goingest process.
type Step string

const (
	// StepScanner describes the candidate discovery performed by the Scanner.
	StepScanner Step = "scanner"
	// StepGrouper describes the collapse of the used-by map into import units.
	StepGrouper Step = "grouper"
	// StepTarget describes the resolution of the remote target container.
	StepTarget Step = "target"
	// StepSession describes the remote import session negotiation.
	StepSession Step = "session"
	// StepTransfer describes the upload of the unit files.
	StepTransfer Step = "transfer"
	// StepVerify describes the remote checksum verification.
	StepVerify Step = "verify"
	// StepAwait describes waiting for the remote job to complete.
	StepAwait Step = "await"
	// StepOther describes a step different from all mentioned above.
	StepOther Step = "other"
)

// String converts a step to string.
func (s Step) String() string {
	return string(s)
}
