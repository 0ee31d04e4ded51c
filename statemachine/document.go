package statemachine

// Document intake states
const (
	DocumentRequested State = "requested"
	DocumentUploaded  State = "uploaded"
	DocumentReviewed  State = "reviewed"
	DocumentAccepted  State = "accepted"
	DocumentRejected  State = "rejected"
)

// Document transition names
const (
	TransitionUpload   = "upload"
	TransitionReview   = "review"
	TransitionAccept   = "accept"
	TransitionReject   = "reject"
	TransitionReupload = "reupload"
)

// DocumentMachine returns the document intake lifecycle. rejected -> uploaded
// is the only back edge; accepted is terminal.
func DocumentMachine(entity string) *Machine {
	m, err := NewMachine(entity, DocumentRequested,
		[]State{
			DocumentRequested,
			DocumentUploaded,
			DocumentReviewed,
			DocumentAccepted,
			DocumentRejected,
		},
		Transition{Name: TransitionUpload, From: []State{DocumentRequested}, To: DocumentUploaded},
		Transition{Name: TransitionReview, From: []State{DocumentUploaded}, To: DocumentReviewed},
		Transition{Name: TransitionAccept, From: []State{DocumentReviewed}, To: DocumentAccepted},
		Transition{Name: TransitionReject, From: []State{DocumentReviewed}, To: DocumentRejected},
		Transition{Name: TransitionReupload, From: []State{DocumentRejected}, To: DocumentUploaded},
	)
	if err != nil {
		panic(err)
	}
	return m
}
