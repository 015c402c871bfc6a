package settlement

import (
	"kasirledger/backend/internal/domain"
)

// Failure classifies why the authoritative path was not taken or did not finish.
// Terminal authority errors never reach the table; the engine surfaces them as is.
type Failure string

const (
	FailureOffline   Failure = "offline"
	FailureNoSession Failure = "no-session"
	// FailureTransient is an authoritative call that timed out or lost its connection.
	FailureTransient Failure = "transient"
)

// Situation is everything the fallback decision depends on.
type Situation struct {
	Role               domain.Role
	ShiftState         domain.ShiftState
	Failure            Failure
	EmergencyRequested bool
}

// Decision is one row of the fallback table.
type Decision struct {
	Fallback       bool
	StartEmergency bool
	Reason         domain.AuditReason
	// Err is set whenever Fallback is false.
	Err error
}

// Decide is the fallback table: role × cached shift state × failure class.
//
//	role      shift                    outcome
//	owner     any                      local fallback
//	employee  active                   local fallback
//	employee  active_emergency         local fallback, reason shift-emergency
//	employee  none/closed + opening    start emergency shift, local fallback, reason shift-emergency
//	employee  none/closed              ShiftNotActive
//	other     any                      PermissionDenied
func Decide(s Situation) Decision {
	reason := reasonFor(s.Failure)

	if s.Role == domain.RoleOwner {
		return Decision{Fallback: true, Reason: reason}
	}
	if s.Role != domain.RoleEmployee {
		return Decision{Err: domain.ErrPermissionDenied}
	}

	switch s.ShiftState {
	case domain.ShiftStateActive:
		return Decision{Fallback: true, Reason: reason}
	case domain.ShiftStateActiveEmergency:
		return Decision{Fallback: true, Reason: domain.AuditReasonShiftEmergency}
	}
	if s.EmergencyRequested {
		return Decision{Fallback: true, StartEmergency: true, Reason: domain.AuditReasonShiftEmergency}
	}
	return Decision{Err: domain.Errorf(domain.KindShiftNotActive, "no active shift: ask the owner to start one or open an emergency shift")}
}

func reasonFor(f Failure) domain.AuditReason {
	switch f {
	case FailureOffline:
		return domain.AuditReasonOffline
	case FailureNoSession:
		return domain.AuditReasonNoSession
	default:
		return domain.AuditReasonAuthorityUnreachable
	}
}
