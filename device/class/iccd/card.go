package iccd

// Card is the contract a slot consumes from a pluggable card
// implementation. Calls are sequential per slot; RunAPDU may take as long
// as it needs but must not be cancelled mid-execution.
//
// Errors returned by a Card are not protocol results: they halt the
// bulk-IN endpoint and stop the function loop.
type Card interface {
	// ATR produces the Answer-To-Reset bytes on power-on.
	ATR() ([]byte, error)

	// RunAPDU executes one command APDU and returns the response APDU.
	RunAPDU(command []byte) ([]byte, error)

	// ClearVolatile drops per-session state. Called on power-off and on
	// removal.
	ClearVolatile()
}
