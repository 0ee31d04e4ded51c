package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/liamcoop/prepbook/booking"
	"github.com/liamcoop/prepbook/internal/logger"
	"github.com/liamcoop/prepbook/rules"
	"github.com/liamcoop/prepbook/statemachine"
	"github.com/liamcoop/prepbook/store"
)

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "healthy",
		"rulesLoaded":   s.registry.Len(),
		"stateMachines": s.catalog.Kinds(),
		"counters": map[string]int64{
			"errors":              logger.TotalErrors.Load(),
			"warnings":            logger.TotalWarnings.Load(),
			"ruleFaults":          logger.RuleFaults.Load(),
			"dependencyCycles":    logger.DependencyCycles.Load(),
			"transitionConflicts": logger.TransitionConflicts.Load(),
			"stateViolations":     logger.StateViolations.Load(),
		},
	})
}

// Evaluation handler
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if msg := checkContext(&req.Context); msg != "" {
		respondError(w, http.StatusBadRequest, msg, nil)
		return
	}

	result := s.engine.EvaluateRules(&req.Context, rules.Options{
		Types:           req.Types,
		ContinueOnError: req.ContinueOnError,
	})
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if msg := checkContext(&req.Context); msg != "" {
		respondError(w, http.StatusBadRequest, msg, nil)
		return
	}

	respondJSON(w, http.StatusOK, s.engine.ValidateInput(&req.Context))
}

func checkContext(rc *rules.RuleContext) string {
	if rc.Entity == "" {
		return "context.entity is required"
	}
	if !rc.Operation.Valid() {
		return "context.operation must be one of create, update, delete, read, transition"
	}
	return ""
}

// List rules handler
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	entity := r.URL.Query().Get("entity")
	typeName := r.URL.Query().Get("type")

	var list []*rules.Rule
	switch {
	case typeName != "":
		t, err := rules.ParseRuleType(typeName)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid rule type", err)
			return
		}
		if entity != "" {
			list = s.registry.ByEntityAndType(entity, t)
		} else {
			list = s.registry.ByType(t)
		}
	case entity != "":
		list = s.registry.ByEntity(entity)
	default:
		list = s.registry.All()
	}

	respondJSON(w, http.StatusOK, RulesListResponse{Rules: list})
}

// Get rule handler
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := s.registry.Get(chi.URLParam(r, "ruleId"))
	if !ok {
		respondError(w, http.StatusNotFound, "rule not found", nil)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// Create rule handler. The definition is compiled and registered, the
// dependency graph is re-validated, and only then is it persisted.
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Type == nil {
		respondError(w, http.StatusBadRequest, "rule type is required", nil)
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	def := req.definition(id, rules.DefaultPriority(*req.Type), true)

	rule, err := def.Build()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule definition", err)
		return
	}

	s.rulesMu.Lock()
	defer s.rulesMu.Unlock()

	if _, exists := s.registry.Get(def.ID); exists {
		respondError(w, http.StatusConflict, "rule id already registered", nil)
		return
	}

	s.registry.Register(rule)
	if err := s.registry.Validate(); err != nil {
		s.registry.UnregisterRule(rule)
		respondError(w, http.StatusBadRequest, "rule dependencies are inconsistent", err)
		return
	}

	if err := s.definitions.Add(r.Context(), def); err != nil {
		s.registry.UnregisterRule(rule)
		if errors.Is(err, rules.ErrDefinitionExists) {
			respondError(w, http.StatusConflict, "rule definition already stored", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to store rule definition", err)
		return
	}

	respondJSON(w, http.StatusCreated, rule)
}

// Update rule handler. Replaces a stored definition and re-registers it under
// the same id; the previous rule is restored if the new one is rejected.
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")

	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Type == nil {
		respondError(w, http.StatusBadRequest, "rule type is required", nil)
		return
	}

	s.rulesMu.Lock()
	defer s.rulesMu.Unlock()

	existing, ok := s.storedDefinition(w, r, ruleID, "built-in rules cannot be modified")
	if !ok {
		return
	}

	def := req.definition(ruleID, existing.Priority, existing.Enabled)
	rule, err := def.Build()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule definition", err)
		return
	}

	previous, hadPrevious := s.registry.Get(ruleID)
	restore := func() {
		if hadPrevious {
			s.registry.Register(previous)
		} else {
			s.registry.UnregisterRule(rule)
		}
	}

	s.registry.Register(rule)
	if err := s.registry.Validate(); err != nil {
		restore()
		respondError(w, http.StatusBadRequest, "rule dependencies are inconsistent", err)
		return
	}

	if err := s.definitions.Update(r.Context(), def); err != nil {
		restore()
		if errors.Is(err, rules.ErrDefinitionNotFound) {
			respondError(w, http.StatusNotFound, "rule not found", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to update rule definition", err)
		return
	}

	respondJSON(w, http.StatusOK, rule)
}

// Delete rule handler. Only stored definitions can be deleted; built-in
// rules are part of the code. A rule that enabled rules depend on stays.
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")

	s.rulesMu.Lock()
	defer s.rulesMu.Unlock()

	if _, ok := s.storedDefinition(w, r, ruleID, "built-in rules cannot be deleted"); !ok {
		return
	}

	if dependents := s.registry.Dependents(ruleID); len(dependents) > 0 {
		respondJSON(w, http.StatusConflict, DependentsResponse{
			Error:      "rule is a dependency of other rules",
			Dependents: dependents,
		})
		return
	}

	if err := s.definitions.Delete(r.Context(), ruleID); err != nil {
		if errors.Is(err, rules.ErrDefinitionNotFound) {
			respondError(w, http.StatusNotFound, "rule not found", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to delete rule definition", err)
		return
	}

	s.registry.Unregister(ruleID)
	logger.Info("rule definition deleted", "rule_id", ruleID)

	w.WriteHeader(http.StatusNoContent)
}

// storedDefinition loads the stored definition for ruleID. Registered rules
// without a definition are built in and answered with builtInMsg (409).
func (s *Server) storedDefinition(w http.ResponseWriter, r *http.Request, ruleID, builtInMsg string) (*rules.RuleDefinition, bool) {
	def, err := s.definitions.Get(r.Context(), ruleID)
	if err == nil {
		return def, true
	}
	if !errors.Is(err, rules.ErrDefinitionNotFound) {
		respondError(w, http.StatusInternalServerError, "failed to load rule definition", err)
		return nil, false
	}
	if _, builtIn := s.registry.Get(ruleID); builtIn {
		respondError(w, http.StatusConflict, builtInMsg, nil)
		return nil, false
	}
	respondError(w, http.StatusNotFound, "rule not found", err)
	return nil, false
}

func (s *Server) handleAllowedTransitions(w http.ResponseWriter, r *http.Request) {
	entity := chi.URLParam(r, "entity")
	state := r.URL.Query().Get("state")
	if state == "" {
		respondError(w, http.StatusBadRequest, "state query parameter is required", nil)
		return
	}

	m, err := s.catalog.Machine(entity)
	if err != nil {
		respondError(w, http.StatusNotFound, "no state machine for entity", err)
		return
	}
	if !m.HasState(statemachine.State(state)) {
		respondError(w, http.StatusBadRequest, "unknown state", nil)
		return
	}

	respondJSON(w, http.StatusOK, TransitionsResponse{
		Entity:             entity,
		State:              state,
		AllowedTransitions: m.AllowedTransitions(statemachine.State(state)),
		Terminal:           m.IsTerminal(statemachine.State(state)),
	})
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	kind, ok := entityKind(w, r)
	if !ok {
		return
	}

	rc := s.ruleContext(r, kind, rules.OpRead)
	if _, ok := s.gate(w, rc, stageAuthorization); !ok {
		return
	}

	list, err := s.entities.List(r.Context(), kind)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list entities", err)
		return
	}
	if list == nil {
		list = []*store.Entity{}
	}
	respondJSON(w, http.StatusOK, EntitiesListResponse{Entities: list})
}

func (s *Server) handleCreateEntity(w http.ResponseWriter, r *http.Request) {
	kind, ok := entityKind(w, r)
	if !ok {
		return
	}

	var data map[string]any
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rc := s.ruleContext(r, kind, rules.OpCreate)
	rc.Data = data
	warnings, ok := s.gate(w, rc, stageAuthorization, stageValidation, stageConstraints)
	if !ok {
		return
	}

	var status string
	if m, err := s.catalog.Machine(kind); err == nil {
		status = string(m.Initial)
	}

	entity, err := s.entities.Create(r.Context(), kind, status, data)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create entity", err)
		return
	}
	respondJSON(w, http.StatusCreated, EntityResponse{Entity: entity, Warnings: warnings})
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	kind, ok := entityKind(w, r)
	if !ok {
		return
	}

	entity, ok := s.loadEntity(w, r, kind)
	if !ok {
		return
	}

	rc := s.ruleContext(r, kind, rules.OpRead)
	rc.Data = entity.Fields()
	if _, ok := s.gate(w, rc, stageAuthorization); !ok {
		return
	}
	respondJSON(w, http.StatusOK, EntityResponse{Entity: entity})
}

func (s *Server) handleUpdateEntity(w http.ResponseWriter, r *http.Request) {
	kind, ok := entityKind(w, r)
	if !ok {
		return
	}

	var data map[string]any
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	existing, ok := s.loadEntity(w, r, kind)
	if !ok {
		return
	}

	rc := s.ruleContext(r, kind, rules.OpUpdate)
	rc.Data = data
	rc.PreviousData = existing.Fields()
	warnings, ok := s.gate(w, rc, stageAuthorization, stageValidation, stageConstraints)
	if !ok {
		return
	}

	entity, err := s.entities.UpdateData(r.Context(), kind, existing.ID, data)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, EntityResponse{Entity: entity, Warnings: warnings})
}

func (s *Server) handleDeleteEntity(w http.ResponseWriter, r *http.Request) {
	kind, ok := entityKind(w, r)
	if !ok {
		return
	}

	existing, ok := s.loadEntity(w, r, kind)
	if !ok {
		return
	}

	rc := s.ruleContext(r, kind, rules.OpDelete)
	rc.Data = existing.Fields()
	if _, ok := s.gate(w, rc, stageAuthorization, stageConstraints); !ok {
		return
	}

	if err := s.entities.Delete(r.Context(), kind, existing.ID); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	kind, ok := entityKind(w, r)
	if !ok {
		return
	}
	transition := chi.URLParam(r, "transition")

	existing, ok := s.loadEntity(w, r, kind)
	if !ok {
		return
	}

	rc := s.ruleContext(r, kind, rules.OpTransition)
	rc.Data = existing.Fields()
	rc.Metadata = map[string]any{"transition": transition}
	if _, ok := s.gate(w, rc, stageAuthorization); !ok {
		return
	}

	entity, err := s.executor.Perform(r.Context(), kind, existing.ID, transition)
	if err != nil {
		var violation *statemachine.StateViolationError
		switch {
		case errors.As(err, &violation):
			respondJSON(w, http.StatusConflict, StateViolationResponse{Error: violation.Error(), Violation: violation})
		case errors.Is(err, statemachine.ErrUnknownMachine):
			respondError(w, http.StatusNotFound, "entity has no lifecycle", err)
		case errors.Is(err, statemachine.ErrUnknownTransition):
			respondError(w, http.StatusBadRequest, "unknown transition", err)
		default:
			respondStoreError(w, err)
		}
		return
	}

	respondJSON(w, http.StatusOK, EntityResponse{Entity: entity})
}

type stage int

const (
	stageAuthorization stage = iota
	stageValidation
	stageConstraints
)

// gate runs the given rule stages in order and writes the rejection
// response for the first stage that fails. It returns the accumulated
// warnings and whether the request may proceed.
func (s *Server) gate(w http.ResponseWriter, rc *rules.RuleContext, stages ...stage) ([]rules.RuleError, bool) {
	var warnings []rules.RuleError
	for _, st := range stages {
		var (
			result *rules.EvaluationResult
			name   string
			status int
		)
		switch st {
		case stageAuthorization:
			result, name, status = s.engine.CheckAuthorization(rc), "authorization", http.StatusForbidden
		case stageValidation:
			result, name, status = s.engine.ValidateInput(rc), "validation", http.StatusUnprocessableEntity
		case stageConstraints:
			result, name, status = s.engine.CheckConstraints(rc), "constraint", http.StatusUnprocessableEntity
		}

		warnings = append(warnings, result.Warnings...)
		if !result.Passed {
			respondJSON(w, status, RejectedResponse{
				Error:  name + " failed",
				Stage:  name,
				Result: result,
			})
			return nil, false
		}
	}
	return warnings, true
}

// ruleContext fills the actor from the X-User-Id and X-User-Roles headers.
func (s *Server) ruleContext(r *http.Request, kind string, op rules.Operation) *rules.RuleContext {
	var roles []string
	for _, role := range strings.Split(r.Header.Get("X-User-Roles"), ",") {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}
	return &rules.RuleContext{
		Entity:    kind,
		Operation: op,
		UserID:    r.Header.Get("X-User-Id"),
		UserRoles: roles,
		Metadata:  map[string]any{"requestId": r.Header.Get("X-Request-Id")},
	}
}

func (s *Server) loadEntity(w http.ResponseWriter, r *http.Request, kind string) (*store.Entity, bool) {
	entity, err := s.entities.Get(r.Context(), kind, chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, err)
		return nil, false
	}
	return entity, true
}

func entityKind(w http.ResponseWriter, r *http.Request) (string, bool) {
	kind := chi.URLParam(r, "entity")
	if !slices.Contains(booking.Kinds, kind) {
		respondError(w, http.StatusNotFound, "unknown entity kind", nil)
		return "", false
	}
	return kind, true
}

func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "entity not found", err)
	case errors.Is(err, store.ErrStateConflict):
		respondError(w, http.StatusConflict, "entity was modified concurrently", err)
	default:
		respondError(w, http.StatusInternalServerError, "storage failure", err)
	}
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	respondJSON(w, status, response)
}
