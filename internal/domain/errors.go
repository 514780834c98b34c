package domain

import "github.com/cockroachdb/errors"

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrInvalidInput         = errors.New("invalid input")
	ErrForbidden            = errors.New("forbidden")

	ErrEventNotFound      = errors.Mark(errors.New("event not found"), ErrNotFound)
	ErrTicketTypeNotFound = errors.Mark(errors.New("ticket type not found"), ErrNotFound)
	ErrPurchaseNotFound   = errors.Mark(errors.New("purchase not found"), ErrNotFound)
	ErrTicketNotFound     = errors.Mark(errors.New("ticket not found"), ErrNotFound)

	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrSaleClosed           = errors.New("ticket sale is closed")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	ErrInvalidTransition    = errors.New("invalid state transition")
	ErrAlreadyApproved      = errors.New("purchase already approved")
	ErrApprovalInProgress   = errors.New("approval already in progress")

	ErrInvalidPayload = errors.New("invalid ticket payload")
	ErrAlreadyUsed    = errors.New("ticket already used")
	ErrAlreadyExited  = errors.New("ticket already exited")
	ErrNotYetEntered  = errors.New("ticket has not been used for entry")
	ErrEventEnded     = errors.New("event has ended")

	ErrStorageFailure      = errors.New("storage failure")
	ErrNotificationFailure = errors.New("notification failure")
)
