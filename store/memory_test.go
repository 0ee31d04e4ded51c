package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/liamcoop/prepbook/store"
)

// testStore runs the behaviour every Store implementation must share.
func testStore(t *testing.T, s store.Store) {
	ctx := context.Background()

	t.Run("create strips reserved keys", func(t *testing.T) {
		e, err := s.Create(ctx, "Appointment", "draft", map[string]any{
			"id": "ignored", "status": "confirmed", "clientId": "c-1",
		})
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if e.ID == "" || e.ID == "ignored" {
			t.Errorf("ID = %q, want a generated id", e.ID)
		}
		if e.Status != "draft" {
			t.Errorf("Status = %q, want draft", e.Status)
		}
		if _, ok := e.Data["status"]; ok {
			t.Error("Data should not carry status")
		}
		if e.Data["clientId"] != "c-1" {
			t.Errorf("Data = %v, want clientId", e.Data)
		}

		fields := e.Fields()
		if fields["id"] != e.ID || fields["status"] != "draft" || fields["clientId"] != "c-1" {
			t.Errorf("Fields() = %v", fields)
		}
	})

	t.Run("get update delete", func(t *testing.T) {
		e, err := s.Create(ctx, "Client", "", map[string]any{"name": "Ada"})
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if _, hasStatus := e.Fields()["status"]; hasStatus {
			t.Error("stateless rows should not expose a status field")
		}

		got, err := s.Get(ctx, "Client", e.ID)
		if err != nil || got.Data["name"] != "Ada" {
			t.Fatalf("Get() = %v, %v", got, err)
		}
		if _, err := s.Get(ctx, "Preparer", e.ID); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("Get() with wrong kind = %v, want ErrNotFound", err)
		}

		updated, err := s.UpdateData(ctx, "Client", e.ID, map[string]any{"name": "Grace", "status": "x"})
		if err != nil {
			t.Fatalf("UpdateData() error = %v", err)
		}
		if updated.Data["name"] != "Grace" || updated.Status != "" {
			t.Errorf("UpdateData() = %+v, want new name and untouched status", updated)
		}

		if err := s.Delete(ctx, "Client", e.ID); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, err := s.Get(ctx, "Client", e.ID); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("Get() after Delete() = %v, want ErrNotFound", err)
		}
		if err := s.Delete(ctx, "Client", e.ID); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("Delete() = %v, want ErrNotFound", err)
		}
		if _, err := s.UpdateData(ctx, "Client", e.ID, nil); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("UpdateData() = %v, want ErrNotFound", err)
		}
	})

	t.Run("malformed id is not found", func(t *testing.T) {
		if _, err := s.Get(ctx, "Client", "not-a-uuid"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("Get() = %v, want ErrNotFound", err)
		}
		if _, err := s.GetEntityState(ctx, "Client", "not-a-uuid"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("GetEntityState() = %v, want ErrNotFound", err)
		}
	})

	t.Run("list by kind", func(t *testing.T) {
		for _, name := range []string{"one", "two"} {
			if _, err := s.Create(ctx, "Service", "", map[string]any{"name": name}); err != nil {
				t.Fatalf("Create() error = %v", err)
			}
		}
		list, err := s.List(ctx, "Service")
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(list) != 2 || list[0].Data["name"] != "one" {
			t.Errorf("List() = %v, want two rows oldest first", list)
		}
	})

	t.Run("compare and swap", func(t *testing.T) {
		e, err := s.Create(ctx, "Document", "requested", map[string]any{"name": "W-2"})
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		state, err := s.GetEntityState(ctx, "Document", e.ID)
		if err != nil || state != "requested" {
			t.Fatalf("GetEntityState() = %q, %v", state, err)
		}

		moved, err := s.SetEntityState(ctx, "Document", e.ID, "requested", "uploaded")
		if err != nil {
			t.Fatalf("SetEntityState() error = %v", err)
		}
		if moved.Status != "uploaded" || moved.Data["name"] != "W-2" {
			t.Errorf("SetEntityState() = %+v", moved)
		}

		if _, err := s.SetEntityState(ctx, "Document", e.ID, "requested", "uploaded"); !errors.Is(err, store.ErrStateConflict) {
			t.Errorf("stale SetEntityState() = %v, want ErrStateConflict", err)
		}
		if _, err := s.SetEntityState(ctx, "Document", "00000000-0000-0000-0000-000000000000", "requested", "uploaded"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("SetEntityState() on missing row = %v, want ErrNotFound", err)
		}
	})

	t.Run("concurrent swaps have one winner", func(t *testing.T) {
		e, err := s.Create(ctx, "Appointment", "draft", nil)
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		const writers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			winners   int
			conflicts int
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.SetEntityState(ctx, "Appointment", e.ID, "draft", "confirmed")
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					winners++
				case errors.Is(err, store.ErrStateConflict):
					conflicts++
				default:
					t.Errorf("SetEntityState() error = %v", err)
				}
			}()
		}
		wg.Wait()

		if winners != 1 || conflicts != writers-1 {
			t.Errorf("got %d winners and %d conflicts, want 1 and %d", winners, conflicts, writers-1)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	testStore(t, store.NewMemoryStore())
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	e, err := s.Create(ctx, "Client", "", map[string]any{"name": "Ada"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	e.Data["name"] = "mutated"

	got, _ := s.Get(ctx, "Client", e.ID)
	if got.Data["name"] != "Ada" {
		t.Errorf("stored row changed through a returned copy: %v", got.Data)
	}
}
