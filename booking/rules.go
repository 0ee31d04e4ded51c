package booking

import (
	"slices"

	"github.com/liamcoop/prepbook/rules"
	"github.com/liamcoop/prepbook/statemachine"
)

const (
	timeOfDayPattern = `^([01][0-9]|2[0-3]):[0-5][0-9]$`
	phonePattern     = `^[+0-9 ()-]{7,20}$`
)

// Ids of rules other rules depend on.
const (
	RuleAppointmentStartsAtFormat = "Appointment.startsAt.timestamp"
	RuleAppointmentEndsAtFormat   = "Appointment.endsAt.timestamp"
	RuleAppointmentWindow         = "Appointment.window"
	RuleAvailabilityStartFormat   = "Availability.startTime.format"
	RuleAvailabilityEndFormat     = "Availability.endTime.format"
	RuleAvailabilityWindow        = "Availability.window"
)

// staffTransitions need a preparer or admin; the rest are open to clients.
var staffTransitions = []string{
	statemachine.TransitionStart,
	statemachine.TransitionComplete,
	statemachine.TransitionMarkNoShow,
	statemachine.TransitionReview,
	statemachine.TransitionAccept,
	statemachine.TransitionReject,
}

// RegisterDefaults registers the built-in rule set. Call it once from the
// composition root, then call reg.Validate.
func RegisterDefaults(reg *rules.Registry, catalog *statemachine.Catalog) error {
	for _, r := range clientRules() {
		reg.Register(r)
	}
	for _, r := range preparerRules() {
		reg.Register(r)
	}
	for _, r := range serviceRules() {
		reg.Register(r)
	}
	for _, r := range availabilityRules() {
		reg.Register(r)
	}

	for _, kind := range []string{KindAppointment, KindDocument} {
		m, err := catalog.Machine(kind)
		if err != nil {
			return err
		}
		reg.Register(statemachine.StatusGuardRule(m))
		reg.Register(readOnlyWhenTerminal(m))
		reg.Register(transitionAuthorization(kind))
	}
	for _, r := range appointmentRules() {
		reg.Register(r)
	}
	for _, r := range documentRules() {
		reg.Register(r)
	}

	for _, kind := range Kinds {
		reg.Register(adminOnly(kind, rules.OpDelete))
	}
	return nil
}

func clientRules() []*rules.Rule {
	phone := rules.MustExpressionRule("Client.phone.format", "Client phone format", KindClient, rules.TypeValidation,
		`!has(data.phone) || data.phone == "" || data.phone.matches("`+phonePattern+`")`,
		"phone number looks malformed")
	phone.Field = "phone"
	phone.Severity = rules.SeverityWarning

	return []*rules.Rule{
		rules.RequiredFieldRule(KindClient, "name"),
		rules.StringLengthRule(KindClient, "name", 1, 120),
		rules.RequiredFieldRule(KindClient, "email"),
		rules.EmailFormatRule(KindClient, "email"),
		phone,
	}
}

func preparerRules() []*rules.Rule {
	return []*rules.Rule{
		rules.RequiredFieldRule(KindPreparer, "name"),
		rules.StringLengthRule(KindPreparer, "name", 1, 120),
		rules.RequiredFieldRule(KindPreparer, "email"),
		rules.EmailFormatRule(KindPreparer, "email"),
		rules.NumericRangeRule(KindPreparer, "hourlyRate", 0, 1000),
		adminOnly(KindPreparer, rules.OpCreate),
		adminOnly(KindPreparer, rules.OpUpdate),
	}
}

func serviceRules() []*rules.Rule {
	return []*rules.Rule{
		rules.RequiredFieldRule(KindService, "name"),
		rules.StringLengthRule(KindService, "name", 1, 120),
		rules.RequiredFieldRule(KindService, "durationMinutes"),
		rules.NumericRangeRule(KindService, "durationMinutes", 15, 480),
		rules.NumericRangeRule(KindService, "price", 0, 100000),
		adminOnly(KindService, rules.OpCreate),
		adminOnly(KindService, rules.OpUpdate),
	}
}

func availabilityRules() []*rules.Rule {
	start := rules.MustExpressionRule(RuleAvailabilityStartFormat, "Availability start time format", KindAvailability,
		rules.TypeConstraint,
		`!has(data.startTime) || data.startTime.matches("`+timeOfDayPattern+`")`,
		"startTime must be HH:MM")
	start.Field = "startTime"

	end := rules.MustExpressionRule(RuleAvailabilityEndFormat, "Availability end time format", KindAvailability,
		rules.TypeConstraint,
		`!has(data.endTime) || data.endTime.matches("`+timeOfDayPattern+`")`,
		"endTime must be HH:MM")
	end.Field = "endTime"

	window := rules.MustExpressionRule(RuleAvailabilityWindow, "Availability window", KindAvailability,
		rules.TypeConstraint,
		`!has(data.startTime) || !has(data.endTime) || data.startTime < data.endTime`,
		"endTime must be after startTime")
	window.DependsOn = []string{RuleAvailabilityStartFormat, RuleAvailabilityEndFormat}

	return []*rules.Rule{
		rules.RequiredFieldRule(KindAvailability, "preparerId"),
		rules.RequiredFieldRule(KindAvailability, "dayOfWeek"),
		rules.NumericRangeRule(KindAvailability, "dayOfWeek", 0, 6),
		rules.RequiredFieldRule(KindAvailability, "startTime"),
		rules.RequiredFieldRule(KindAvailability, "endTime"),
		start,
		end,
		window,
	}
}

func appointmentRules() []*rules.Rule {
	starts := rules.MustExpressionRule(RuleAppointmentStartsAtFormat, "Appointment start timestamp", KindAppointment,
		rules.TypeConstraint,
		`!has(data.startsAt) || data.startsAt == "" || timestamp(data.startsAt) > timestamp("1970-01-01T00:00:00Z")`,
		"startsAt must be an RFC 3339 timestamp")
	starts.Field = "startsAt"

	ends := rules.MustExpressionRule(RuleAppointmentEndsAtFormat, "Appointment end timestamp", KindAppointment,
		rules.TypeConstraint,
		`!has(data.endsAt) || data.endsAt == "" || timestamp(data.endsAt) > timestamp("1970-01-01T00:00:00Z")`,
		"endsAt must be an RFC 3339 timestamp")
	ends.Field = "endsAt"

	window := rules.MustExpressionRule(RuleAppointmentWindow, "Appointment window", KindAppointment,
		rules.TypeConstraint,
		`!has(data.startsAt) || !has(data.endsAt) || data.startsAt == "" || data.endsAt == "" ||
			timestamp(data.endsAt) > timestamp(data.startsAt)`,
		"endsAt must be after startsAt")
	window.Field = "endsAt"
	window.DependsOn = []string{RuleAppointmentStartsAtFormat, RuleAppointmentEndsAtFormat}

	notes := rules.StringLengthRule(KindAppointment, "notes", 0, 2000)
	notes.Severity = rules.SeverityWarning

	return []*rules.Rule{
		rules.RequiredFieldRule(KindAppointment, "clientId"),
		rules.RequiredFieldRule(KindAppointment, "preparerId"),
		rules.RequiredFieldRule(KindAppointment, "serviceId"),
		rules.RequiredFieldRule(KindAppointment, "startsAt"),
		notes,
		starts,
		ends,
		window,
	}
}

func documentRules() []*rules.Rule {
	return []*rules.Rule{
		rules.RequiredFieldRule(KindDocument, "appointmentId"),
		rules.RequiredFieldRule(KindDocument, "name"),
		rules.StringLengthRule(KindDocument, "name", 1, 200),
		rules.StringLengthRule(KindDocument, "fileName", 1, 255),
	}
}

// readOnlyWhenTerminal rejects updates to rows whose previous status has no
// outgoing transitions.
func readOnlyWhenTerminal(m *statemachine.Machine) *rules.Rule {
	return rules.NewConstraintRule(
		m.Entity+".terminal.readonly",
		m.Entity+" read-only once finished",
		m.Entity,
		func(_ map[string]any, rc *rules.RuleContext) bool {
			if rc.Operation != rules.OpUpdate {
				return true
			}
			previous, _ := rc.PreviousData["status"].(string)
			return previous == "" || !m.IsTerminal(statemachine.State(previous))
		},
		m.Entity+" can no longer be edited",
	)
}

// transitionAuthorization requires staff for staffTransitions and any known
// role otherwise. The transition name travels in metadata["transition"].
func transitionAuthorization(kind string) *rules.Rule {
	return rules.NewAuthorizationRule(
		kind+".transition.authorization",
		kind+" transition authorization",
		kind,
		rules.OpTransition,
		func(rc *rules.RuleContext) bool {
			name, _ := rc.Metadata["transition"].(string)
			if slices.Contains(staffTransitions, name) {
				return rc.HasRole(RoleAdmin, RolePreparer)
			}
			return rc.HasRole(RoleAdmin, RolePreparer, RoleClient)
		},
		"you are not allowed to perform this transition",
	)
}

func adminOnly(kind string, op rules.Operation) *rules.Rule {
	return rules.NewAuthorizationRule(
		kind+"."+string(op)+".admin",
		kind+" "+string(op)+" requires admin",
		kind,
		op,
		func(rc *rules.RuleContext) bool { return rc.HasRole(RoleAdmin) },
		"only administrators may "+string(op)+" "+kind+" records",
	)
}
