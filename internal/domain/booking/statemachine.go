package booking

import (
	"fmt"

	"github.com/labbook/labbook/internal/platform/auth"
)

// transitions lists the legal next statuses for each status.
var transitions = map[string][]string{
	StatusPending:         {StatusConfirmed, StatusCancelled},
	StatusConfirmed:       {StatusSampleCollected, StatusCancelled},
	StatusSampleCollected: {StatusProcessing},
	StatusProcessing:      {StatusCompleted},
	StatusCompleted:       {},
	StatusCancelled:       {},
}

// ValidStatus reports whether s is a known booking status.
func ValidStatus(s string) bool {
	_, ok := transitions[s]
	return ok
}

// ValidateTransition checks that from -> to is an edge of the booking
// state machine.
func ValidateTransition(from, to string) error {
	allowed, ok := transitions[from]
	if !ok {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// authorizeTransition applies the actor rules on top of the state machine:
// patients may only cancel their own booking, lab partners drive bookings of
// their own lab and admins may perform any legal transition.
func authorizeTransition(p *auth.Principal, b *Booking, to string) error {
	switch {
	case p.IsAdmin():
		return nil
	case p == nil:
		return ErrForbidden
	case p.Role == auth.RolePatient:
		if b.PatientID != p.UserID || to != StatusCancelled {
			return ErrForbidden
		}
		return nil
	case p.Role == auth.RoleLabPartner:
		if !p.OwnsLab(b.LabID) {
			return ErrForbidden
		}
		return nil
	}
	return ErrForbidden
}

// canView reports whether p may read b.
func canView(p *auth.Principal, b *Booking) bool {
	switch {
	case p.IsAdmin():
		return true
	case p == nil:
		return false
	case p.Role == auth.RolePatient:
		return b.PatientID == p.UserID
	case p.Role == auth.RoleLabPartner:
		return p.OwnsLab(b.LabID)
	}
	return false
}
