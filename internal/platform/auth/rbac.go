package auth

import (
	"fmt"

	"github.com/labstack/echo/v4"

	"github.com/icu/icu/internal/platform/apperr"
)

// Action names a capability checked before an operation runs.
type Action string

const (
	ActionPatientRead            Action = "patient.read"
	ActionPatientAdmit           Action = "patient.admit"
	ActionPatientCondition       Action = "patient.condition"
	ActionPatientDischargeStatus Action = "patient.discharge_status"
	ActionPatientDischarge       Action = "patient.discharge"
	ActionVitalsRecord           Action = "vitals.record"
	ActionMedicationPrescribe    Action = "medication.prescribe"
	ActionMedicationStatus       Action = "medication.status"
	ActionLabRecord              Action = "lab.record"
	ActionLabAcknowledge         Action = "lab.acknowledge"
	ActionProcedureRecord        Action = "procedure.record"
	ActionNoteWrite              Action = "note.write"
	ActionReportRead             Action = "report.read"
	ActionReportExport           Action = "report.export"
	ActionUserManage             Action = "user.manage"
)

// AllActions lists every capability.
var AllActions = []Action{
	ActionPatientRead, ActionPatientAdmit, ActionPatientCondition, ActionPatientDischargeStatus,
	ActionPatientDischarge, ActionVitalsRecord, ActionMedicationPrescribe, ActionMedicationStatus,
	ActionLabRecord, ActionLabAcknowledge, ActionProcedureRecord, ActionNoteWrite,
	ActionReportRead, ActionReportExport, ActionUserManage,
}

var capabilities = buildCapabilities()

func buildCapabilities() map[Role]map[Action]bool {
	doctor := make(map[Action]bool)
	admin := make(map[Action]bool)
	for _, a := range AllActions {
		admin[a] = true
		if a != ActionUserManage {
			doctor[a] = true
		}
	}
	nurse := map[Action]bool{
		ActionPatientRead:      true,
		ActionPatientCondition: true,
		ActionVitalsRecord:     true,
		ActionMedicationStatus: true,
		ActionLabAcknowledge:   true,
		ActionNoteWrite:        true,
		ActionReportRead:       true,
	}
	return map[Role]map[Action]bool{
		RoleDoctor: doctor,
		RoleNurse:  nurse,
		RoleAdmin:  admin,
	}
}

// Can reports whether role may perform action.
func Can(role Role, action Action) bool {
	return capabilities[role][action]
}

// Authorize returns nil if s may perform action.
func Authorize(s *Session, action Action) error {
	if s == nil {
		return apperr.Unauthenticated("no session")
	}
	if !Can(s.Role, action) {
		return apperr.Forbidden(fmt.Sprintf("role %s may not %s", s.Role, action))
	}
	return nil
}

// Require returns middleware that rejects requests whose session lacks action.
func Require(action Action) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := Authorize(SessionFromContext(c.Request().Context()), action); err != nil {
				return err
			}
			return next(c)
		}
	}
}
