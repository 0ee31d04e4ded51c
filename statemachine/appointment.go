package statemachine

// Appointment lifecycle states
const (
	AppointmentDraft      State = "draft"
	AppointmentConfirmed  State = "confirmed"
	AppointmentInProgress State = "in_progress"
	AppointmentCompleted  State = "completed"
	AppointmentCancelled  State = "cancelled"
	AppointmentNoShow     State = "no_show"
)

// Appointment transition names
const (
	TransitionConfirm     = "confirm"
	TransitionStart       = "start"
	TransitionComplete    = "complete"
	TransitionCancel      = "cancel"
	TransitionCancelDraft = "cancelDraft"
	TransitionMarkNoShow  = "markNoShow"
)

// AppointmentMachine returns the booking appointment lifecycle:
//
//	draft -confirm-> confirmed -start-> in_progress -complete-> completed
//	draft -cancelDraft-> cancelled
//	confirmed -cancel-> cancelled
//	confirmed -markNoShow-> no_show
func AppointmentMachine(entity string) *Machine {
	m, err := NewMachine(entity, AppointmentDraft,
		[]State{
			AppointmentDraft,
			AppointmentConfirmed,
			AppointmentInProgress,
			AppointmentCompleted,
			AppointmentCancelled,
			AppointmentNoShow,
		},
		Transition{Name: TransitionConfirm, From: []State{AppointmentDraft}, To: AppointmentConfirmed},
		Transition{Name: TransitionStart, From: []State{AppointmentConfirmed}, To: AppointmentInProgress},
		Transition{Name: TransitionComplete, From: []State{AppointmentInProgress}, To: AppointmentCompleted},
		Transition{Name: TransitionCancel, From: []State{AppointmentConfirmed}, To: AppointmentCancelled},
		Transition{Name: TransitionCancelDraft, From: []State{AppointmentDraft}, To: AppointmentCancelled},
		Transition{Name: TransitionMarkNoShow, From: []State{AppointmentConfirmed}, To: AppointmentNoShow},
	)
	if err != nil {
		panic(err)
	}
	return m
}
