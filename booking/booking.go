// Package booking wires the tax-preparer scheduling domain onto the rule
// engine: entity kinds, roles, the default rule set, and the lifecycle
// machines for appointments and documents.
package booking

import (
	"github.com/liamcoop/prepbook/statemachine"
)

// Entity kinds
const (
	KindClient       = "Client"
	KindPreparer     = "Preparer"
	KindService      = "Service"
	KindAvailability = "Availability"
	KindAppointment  = "Appointment"
	KindDocument     = "Document"
)

// Kinds lists every entity kind the API serves.
var Kinds = []string{
	KindClient,
	KindPreparer,
	KindService,
	KindAvailability,
	KindAppointment,
	KindDocument,
}

// Roles
const (
	RoleAdmin    = "admin"
	RolePreparer = "preparer"
	RoleClient   = "client"
)

// Machines returns the catalog of lifecycle machines.
func Machines() *statemachine.Catalog {
	return statemachine.NewCatalog(
		statemachine.AppointmentMachine(KindAppointment),
		statemachine.DocumentMachine(KindDocument),
	)
}
