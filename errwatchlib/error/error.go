package error

// Kind tags every record sent to the collector. Manual reports may use
// kinds outside this list.
type Kind string

const (
	// an uncaught synchronous failure, in Go a panic that unwinds through
	// an observation point
	ScriptError Kind = "script_error"

	// an asynchronous operation failed and nobody handled it
	RejectionError Kind = "rejection_error"

	// a response was received but its status is outside the 2xx range
	HttpError Kind = "http_error"

	// no response was received at all
	NetworkError Kind = "network_error"
)

func (k Kind) Known() bool {
	switch k {
	case ScriptError, RejectionError, HttpError, NetworkError:
		return true
	}
	return false
}

func (k Kind) String() string {
	return string(k)
}
