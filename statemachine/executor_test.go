package statemachine

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/liamcoop/prepbook/store"
)

func newTestCatalog() *Catalog {
	return NewCatalog(AppointmentMachine("Appointment"), DocumentMachine("Document"))
}

func TestExecutor_Perform(t *testing.T) {
	ctx := context.Background()
	rows := store.NewMemoryStore()
	x := NewExecutor(newTestCatalog(), rows)

	e, err := rows.Create(ctx, "Appointment", string(AppointmentDraft), map[string]any{"clientId": "c-1"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	updated, err := x.Perform(ctx, "Appointment", e.ID, TransitionConfirm)
	if err != nil {
		t.Fatalf("Perform(confirm) error = %v", err)
	}
	if updated.Status != string(AppointmentConfirmed) || updated.Data["clientId"] != "c-1" {
		t.Errorf("Perform() = %+v, want confirmed row with data intact", updated)
	}

	_, err = x.Perform(ctx, "Appointment", e.ID, TransitionConfirm)
	var violation *StateViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("second confirm error = %v, want *StateViolationError", err)
	}
	if violation.ID != e.ID || violation.CurrentState != "confirmed" || violation.AttemptedTransition != "confirm" {
		t.Errorf("unexpected violation %+v", violation)
	}
	if want := []string{"start", "cancel", "markNoShow"}; !slices.Equal(violation.AllowedTransitions, want) {
		t.Errorf("AllowedTransitions = %v, want %v", violation.AllowedTransitions, want)
	}

	if state, _ := rows.GetEntityState(ctx, "Appointment", e.ID); state != string(AppointmentConfirmed) {
		t.Errorf("state after violation = %q, want unchanged", state)
	}
}

func TestExecutor_Errors(t *testing.T) {
	ctx := context.Background()
	rows := store.NewMemoryStore()
	x := NewExecutor(newTestCatalog(), rows)

	e, _ := rows.Create(ctx, "Document", string(DocumentRequested), nil)

	tests := []struct {
		name       string
		kind       string
		id         string
		transition string
		want       error
	}{
		{"unknown kind", "Client", e.ID, "upload", ErrUnknownMachine},
		{"unknown transition", "Document", e.ID, "shred", ErrUnknownTransition},
		{"missing row", "Document", "00000000-0000-0000-0000-000000000000", "upload", store.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := x.Perform(ctx, tt.kind, tt.id, tt.transition); !errors.Is(err, tt.want) {
				t.Errorf("Perform() = %v, want %v", err, tt.want)
			}
		})
	}
}

// racingStore moves the row to another state right after each read, so the
// executor's compare-and-swap loses a fixed number of times.
type racingStore struct {
	*store.MemoryStore
	losses int
	sets   int
	mu     sync.Mutex
}

func (s *racingStore) GetEntityState(ctx context.Context, kind, id string) (string, error) {
	state, err := s.MemoryStore.GetEntityState(ctx, kind, id)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.losses > 0 {
		s.losses--
		return "stale-" + state, nil
	}
	return state, nil
}

func (s *racingStore) SetEntityState(ctx context.Context, kind, id, expected, next string) (*store.Entity, error) {
	s.mu.Lock()
	s.sets++
	s.mu.Unlock()
	return s.MemoryStore.SetEntityState(ctx, kind, id, expected, next)
}

func newRacingMachine() *Catalog {
	// Every "stale-" state can also be left through the transition so the
	// executor reaches SetEntityState with a stale expectation.
	m, err := NewMachine("Job", "open",
		[]State{"open", "stale-open", "closed"},
		Transition{Name: "close", From: []State{"open", "stale-open"}, To: "closed"},
	)
	if err != nil {
		panic(err)
	}
	return NewCatalog(m)
}

func TestExecutor_RetriesLostSwaps(t *testing.T) {
	ctx := context.Background()
	rows := &racingStore{MemoryStore: store.NewMemoryStore(), losses: 2}
	e, _ := rows.Create(ctx, "Job", "open", nil)

	x := NewExecutor(newRacingMachine(), rows).WithMaxRetries(3)
	updated, err := x.Perform(ctx, "Job", e.ID, "close")
	if err != nil {
		t.Fatalf("Perform() error = %v", err)
	}
	if updated.Status != "closed" {
		t.Errorf("Status = %q, want closed", updated.Status)
	}
	if rows.sets != 3 {
		t.Errorf("SetEntityState called %d times, want 3", rows.sets)
	}
}

func TestExecutor_GivesUpAfterRetries(t *testing.T) {
	ctx := context.Background()
	rows := &racingStore{MemoryStore: store.NewMemoryStore(), losses: 10}
	e, _ := rows.Create(ctx, "Job", "open", nil)

	x := NewExecutor(newRacingMachine(), rows).WithMaxRetries(2)
	_, err := x.Perform(ctx, "Job", e.ID, "close")
	if !errors.Is(err, store.ErrStateConflict) {
		t.Fatalf("Perform() = %v, want ErrStateConflict", err)
	}
	if rows.sets != 3 {
		t.Errorf("SetEntityState called %d times, want 3", rows.sets)
	}
}

func TestExecutor_ConcurrentTransitionsHaveOneWinner(t *testing.T) {
	ctx := context.Background()
	rows := store.NewMemoryStore()
	e, _ := rows.Create(ctx, "Appointment", string(AppointmentDraft), nil)
	x := NewExecutor(newTestCatalog(), rows)

	const callers = 10
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		ok         int
		violations int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := x.Perform(ctx, "Appointment", e.ID, TransitionConfirm)
			mu.Lock()
			defer mu.Unlock()
			var violation *StateViolationError
			switch {
			case err == nil:
				ok++
			case errors.As(err, &violation):
				violations++
			default:
				t.Errorf("Perform() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || violations != callers-1 {
		t.Errorf("got %d successes and %d violations, want 1 and %d", ok, violations, callers-1)
	}
}

func TestExecutor_WithMaxRetriesClampsNegative(t *testing.T) {
	x := NewExecutor(newTestCatalog(), store.NewMemoryStore()).WithMaxRetries(-4)
	if x.maxRetries != 0 {
		t.Errorf("maxRetries = %d, want 0", x.maxRetries)
	}
}
