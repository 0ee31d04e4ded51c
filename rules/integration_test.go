//go:build integration

package rules_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/liamcoop/prepbook/internal/testutil"
	"github.com/liamcoop/prepbook/rules"
)

func TestPostgresDefinitionStore_CRUD(t *testing.T) {
	db := testutil.PostgresDB(t)
	store := rules.NewPostgresDefinitionStore(db)
	ctx := context.Background()

	def := &rules.RuleDefinition{
		ID:         "Service.price.cap",
		Name:       "Service price cap",
		Type:       rules.TypeConstraint,
		Entity:     "Service",
		Field:      "price",
		Priority:   rules.PriorityConstraint,
		Enabled:    true,
		Severity:   rules.SeverityWarning,
		Expression: "!has(data.price) || data.price <= 500.0",
		Message:    "price above cap",
		DependsOn:  []string{"Service.price.range"},
	}

	if err := store.Add(ctx, def); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := store.Add(ctx, def); !errors.Is(err, rules.ErrDefinitionExists) {
		t.Errorf("Add() duplicate = %v, want ErrDefinitionExists", err)
	}

	got, err := store.Get(ctx, def.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Type != rules.TypeConstraint || got.Severity != rules.SeverityWarning || got.Field != "price" {
		t.Errorf("Get() = %+v, want the stored type, severity and field", got)
	}
	if !slices.Equal(got.DependsOn, def.DependsOn) {
		t.Errorf("DependsOn = %v, want %v", got.DependsOn, def.DependsOn)
	}

	noDeps := &rules.RuleDefinition{
		ID:         "Client.name.short",
		Name:       "short names",
		Type:       rules.TypeValidation,
		Entity:     "Client",
		Enabled:    true,
		Expression: "size(data.name) < 50",
		Message:    "name too long",
	}
	if err := store.Add(ctx, noDeps); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != def.ID {
		t.Fatalf("List() = %v, want two definitions in creation order", list)
	}
	if len(list[1].DependsOn) != 0 {
		t.Errorf("DependsOn = %v, want none", list[1].DependsOn)
	}

	got.Enabled = false
	got.Priority = 5
	if err := store.Update(ctx, got); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	updated, _ := store.Get(ctx, def.ID)
	if updated.Enabled || updated.Priority != 5 {
		t.Errorf("Update() not persisted: %+v", updated)
	}

	if err := store.Delete(ctx, def.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, def.ID); !errors.Is(err, rules.ErrDefinitionNotFound) {
		t.Errorf("Get() after Delete() = %v, want ErrDefinitionNotFound", err)
	}
	if err := store.Delete(ctx, def.ID); !errors.Is(err, rules.ErrDefinitionNotFound) {
		t.Errorf("Delete() = %v, want ErrDefinitionNotFound", err)
	}
	if err := store.Update(ctx, def); !errors.Is(err, rules.ErrDefinitionNotFound) {
		t.Errorf("Update() = %v, want ErrDefinitionNotFound", err)
	}
}

func TestPostgresDefinitionStore_LoadIntoRegistry(t *testing.T) {
	db := testutil.PostgresDB(t)
	store := rules.NewPostgresDefinitionStore(db)
	ctx := context.Background()

	for _, def := range []*rules.RuleDefinition{
		{ID: "Client.vip", Name: "vip", Type: rules.TypeAuthorization, Entity: "Client", Enabled: true,
			Expression: `operation != "delete" || "admin" in user.roles`, Message: "admins only"},
		{ID: "Client.name.present", Name: "name", Type: rules.TypeValidation, Entity: "Client", Field: "name", Enabled: true,
			Expression: `has(data.name)`, Message: "name is required"},
	} {
		if err := store.Add(ctx, def); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}

	reg := rules.NewRegistry()
	n, err := rules.LoadDefinitions(ctx, store, reg)
	if err != nil || n != 2 {
		t.Fatalf("LoadDefinitions() = %d, %v, want 2", n, err)
	}

	en := rules.NewEngine(reg)
	result := en.CheckAuthorization(&rules.RuleContext{Entity: "Client", Operation: rules.OpDelete, UserRoles: []string{"client"}})
	if result.Passed {
		t.Error("client delete should be rejected by the stored rule")
	}

	result = en.ValidateInput(&rules.RuleContext{Entity: "Client", Operation: rules.OpCreate, Data: map[string]any{}})
	if result.Passed || result.Errors[0].Field != "name" {
		t.Errorf("ValidateInput() = %+v, want a name error", result)
	}
}
