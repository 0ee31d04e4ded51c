package statemachine

import (
	"errors"
	"slices"
	"strings"
	"testing"
)

func TestAppointmentMachine_AllowedTransitions(t *testing.T) {
	m := AppointmentMachine("Appointment")

	tests := []struct {
		state State
		want  []string
	}{
		{AppointmentDraft, []string{TransitionConfirm, TransitionCancelDraft}},
		{AppointmentConfirmed, []string{TransitionStart, TransitionCancel, TransitionMarkNoShow}},
		{AppointmentInProgress, []string{TransitionComplete}},
		{AppointmentCompleted, []string{}},
		{AppointmentCancelled, []string{}},
		{AppointmentNoShow, []string{}},
		{State("archived"), []string{}},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := m.AllowedTransitions(tt.state); !slices.Equal(got, tt.want) {
				t.Errorf("AllowedTransitions(%q) = %v, want %v", tt.state, got, tt.want)
			}
		})
	}
}

func TestDocumentMachine_AllowedTransitions(t *testing.T) {
	m := DocumentMachine("Document")

	tests := []struct {
		state    State
		want     []string
		terminal bool
	}{
		{DocumentRequested, []string{TransitionUpload}, false},
		{DocumentUploaded, []string{TransitionReview}, false},
		{DocumentReviewed, []string{TransitionAccept, TransitionReject}, false},
		{DocumentRejected, []string{TransitionReupload}, false},
		{DocumentAccepted, []string{}, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := m.AllowedTransitions(tt.state); !slices.Equal(got, tt.want) {
				t.Errorf("AllowedTransitions(%q) = %v, want %v", tt.state, got, tt.want)
			}
			if m.IsTerminal(tt.state) != tt.terminal {
				t.Errorf("IsTerminal(%q) = %v, want %v", tt.state, !tt.terminal, tt.terminal)
			}
		})
	}
}

func TestMachine_ValidateTransition(t *testing.T) {
	m := AppointmentMachine("Appointment")

	tests := []struct {
		from State
		name string
		want bool
	}{
		{AppointmentDraft, TransitionConfirm, true},
		{AppointmentConfirmed, TransitionConfirm, false},
		{AppointmentConfirmed, TransitionMarkNoShow, true},
		{AppointmentDraft, TransitionCancel, false},
		{AppointmentDraft, TransitionCancelDraft, true},
		{AppointmentDraft, "teleport", false},
	}

	for _, tt := range tests {
		if got := m.ValidateTransition(tt.from, tt.name); got != tt.want {
			t.Errorf("ValidateTransition(%q, %q) = %v, want %v", tt.from, tt.name, got, tt.want)
		}
	}
}

func TestTransition_ToState(t *testing.T) {
	m := AppointmentMachine("Appointment")
	confirm, ok := m.Transition(TransitionConfirm)
	if !ok {
		t.Fatal("confirm transition missing")
	}

	if got := confirm.ToState(AppointmentDraft); got != AppointmentConfirmed {
		t.Errorf("ToState(draft) = %q, want confirmed", got)
	}
	if got := confirm.ToState(AppointmentCompleted); got != InvalidState {
		t.Errorf("ToState(completed) = %q, want InvalidState", got)
	}
	if got := confirm.ToState(State("nonsense")); got != InvalidState {
		t.Errorf("ToState(nonsense) = %q, want InvalidState", got)
	}
}

func TestMachine_Next(t *testing.T) {
	m := AppointmentMachine("Appointment")

	next, err := m.Next(AppointmentDraft, TransitionConfirm)
	if err != nil || next != AppointmentConfirmed {
		t.Fatalf("Next() = %q, %v, want confirmed", next, err)
	}

	_, err = m.Next(AppointmentConfirmed, TransitionConfirm)
	var violation *StateViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("Next() error = %v, want *StateViolationError", err)
	}
	if violation.CurrentState != "confirmed" || violation.AttemptedTransition != "confirm" {
		t.Errorf("unexpected violation %+v", violation)
	}
	if want := []string{"start", "cancel", "markNoShow"}; !slices.Equal(violation.AllowedTransitions, want) {
		t.Errorf("AllowedTransitions = %v, want %v", violation.AllowedTransitions, want)
	}
	if !strings.Contains(violation.Error(), "start, cancel, markNoShow") {
		t.Errorf("Error() = %q should list the allowed transitions", violation.Error())
	}

	if _, err := m.Next(AppointmentDraft, "teleport"); !errors.Is(err, ErrUnknownTransition) {
		t.Errorf("Next() = %v, want ErrUnknownTransition", err)
	}

	_, err = m.Next(AppointmentCompleted, TransitionCancel)
	if !errors.As(err, &violation) || !strings.Contains(violation.Error(), "allowed: none") {
		t.Errorf("terminal violation = %v", err)
	}
}

func TestNewMachine_RejectsBadTables(t *testing.T) {
	states := []State{"a", "b"}

	tests := []struct {
		name        string
		initial     State
		transitions []Transition
		errPart     string
	}{
		{"undeclared initial", "z", nil, "initial state"},
		{"empty name", "a", []Transition{{From: []State{"a"}, To: "b"}}, "empty name"},
		{"duplicate name", "a", []Transition{{Name: "go", From: []State{"a"}, To: "b"}, {Name: "go", From: []State{"b"}, To: "a"}}, "duplicate"},
		{"no sources", "a", []Transition{{Name: "go", To: "b"}}, "no source"},
		{"undeclared source", "a", []Transition{{Name: "go", From: []State{"q"}, To: "b"}}, "source"},
		{"undeclared target", "a", []Transition{{Name: "go", From: []State{"a"}, To: "q"}}, "target"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMachine("Thing", tt.initial, states, tt.transitions...)
			if err == nil || !strings.Contains(err.Error(), tt.errPart) {
				t.Errorf("NewMachine() = %v, want error containing %q", err, tt.errPart)
			}
		})
	}
}

func TestMachine_HasState(t *testing.T) {
	m := DocumentMachine("Document")
	if !m.HasState(DocumentAccepted) {
		t.Error("HasState(accepted) = false")
	}
	if m.HasState(InvalidState) || m.HasState("draft") {
		t.Error("HasState should reject undeclared states")
	}
}

func TestCatalog(t *testing.T) {
	c := NewCatalog(AppointmentMachine("Appointment"), DocumentMachine("Document"))

	if got := c.Kinds(); !slices.Equal(got, []string{"Appointment", "Document"}) {
		t.Errorf("Kinds() = %v", got)
	}

	allowed, err := c.AllowedTransitions("Appointment", "confirmed")
	if err != nil {
		t.Fatalf("AllowedTransitions() error = %v", err)
	}
	got := slices.Clone(allowed)
	slices.Sort(got)
	if want := []string{"cancel", "markNoShow", "start"}; !slices.Equal(got, want) {
		t.Errorf("AllowedTransitions() = %v, want the set %v", allowed, want)
	}

	if _, err := c.AllowedTransitions("Client", "draft"); !errors.Is(err, ErrUnknownMachine) {
		t.Errorf("AllowedTransitions(Client) = %v, want ErrUnknownMachine", err)
	}

	if !c.ValidateTransition("Appointment", "draft", "confirm") {
		t.Error(`ValidateTransition("Appointment", "draft", "confirm") = false`)
	}
	if c.ValidateTransition("Appointment", "confirmed", "confirm") {
		t.Error(`ValidateTransition("Appointment", "confirmed", "confirm") = true`)
	}
	if c.ValidateTransition("Client", "draft", "confirm") {
		t.Error("unknown kinds should never validate")
	}
}
