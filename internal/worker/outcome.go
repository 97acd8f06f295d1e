package worker

// Disposition is how a queue message is settled.
type Disposition string

const (
	DispositionComplete   Disposition = "complete"
	DispositionAbandon    Disposition = "abandon"
	DispositionDeadLetter Disposition = "deadletter"
)

// Dead-letter reasons carried on the dead-letter topic.
const (
	ReasonInvalidPayload      = "InvalidPayload"
	ReasonShipmentNotFound    = "Shipment not found"
	ReasonEmptyLabelBlob      = "EmptyLabelBlob"
	ReasonBlobOperationFailed = "BlobOperationFailed"
	ReasonUnexpectedError     = "UnexpectedError"
)

// Reasons logged for non dead-letter settlements.
const (
	reasonAlreadySettled = "AlreadySettled"
	reasonStaleMessage   = "StaleMessage"
	reasonDuplicate      = "Duplicate"
	reasonRetry          = "Retry"
	reasonPersistFailed  = "PersistFailed"
)

// Outcome is the settlement decided for one message.
type Outcome struct {
	Disposition Disposition
	Reason      string
	Description string
}

func complete(reason string) Outcome {
	return Outcome{Disposition: DispositionComplete, Reason: reason}
}

func abandon(reason string, err error) Outcome {
	out := Outcome{Disposition: DispositionAbandon, Reason: reason}
	if err != nil {
		out.Description = err.Error()
	}
	return out
}

func deadLetter(reason, description string) Outcome {
	return Outcome{Disposition: DispositionDeadLetter, Reason: reason, Description: description}
}
