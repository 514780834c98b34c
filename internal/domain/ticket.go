package domain

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// TicketState is the scan lifecycle of an issued credential:
// issued -> entered -> exited. exited is terminal.
type TicketState string

const (
	TicketIssued  TicketState = "issued"
	TicketEntered TicketState = "entered"
	TicketExited  TicketState = "exited"
)

type ExitReason string

const (
	ExitNormal    ExitReason = "normal"
	ExitInjured   ExitReason = "injured"
	ExitEmergency ExitReason = "emergency"
)

// ParseExitReason defaults an empty reason to normal.
func ParseExitReason(s string) (ExitReason, error) {
	switch r := ExitReason(strings.ToLower(strings.TrimSpace(s))); r {
	case "":
		return ExitNormal, nil
	case ExitNormal, ExitInjured, ExitEmergency:
		return r, nil
	}
	return "", errors.Wrapf(ErrInvalidInput, "unknown exit reason %q", s)
}

// Alerting reports whether an exit with this reason raises an
// operational alert.
func (r ExitReason) Alerting() bool {
	return r == ExitInjured || r == ExitEmergency
}

// Enter records the entry scan.
func (t *Ticket) Enter(at time.Time, scanner string) error {
	if t.State != TicketIssued {
		return ErrAlreadyUsed
	}
	t.State = TicketEntered
	t.UsedAt = &at
	t.EntryBy = scanner
	return nil
}

// Exit records the exit scan; an exit requires a prior entry.
func (t *Ticket) Exit(at time.Time, scanner string, reason ExitReason, notes string) error {
	switch t.State {
	case TicketIssued:
		return ErrNotYetEntered
	case TicketExited:
		return ErrAlreadyExited
	}
	if reason == "" {
		reason = ExitNormal
	}
	spent := at.Sub(*t.UsedAt)
	t.State = TicketExited
	t.ExitTime = &at
	t.ExitBy = scanner
	t.ExitReason = reason
	t.InjuryNotes = notes
	t.TimeSpent = &spent
	return nil
}
