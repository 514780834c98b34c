package domain

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PurchaseStatus string

const (
	PurchasePending   PurchaseStatus = "pending"
	PurchaseCompleted PurchaseStatus = "completed"
	PurchaseFailed    PurchaseStatus = "failed"
	PurchaseRefunded  PurchaseStatus = "refunded"
)

type PurchaseAction string

const (
	ActionInitiatePayment PurchaseAction = "initiate_payment"
	ActionSubmitProof     PurchaseAction = "submit_proof"
	ActionApprove         PurchaseAction = "approve"
	ActionReject          PurchaseAction = "reject"
	ActionExpire          PurchaseAction = "expire"
	ActionRefund          PurchaseAction = "refund"
)

type purchaseTransition struct {
	from []PurchaseStatus
	to   PurchaseStatus
}

// Reject and the payment steps keep the purchase pending; only approval,
// expiry and refund move it. Nothing ever returns to pending.
var purchaseTransitions = map[PurchaseAction]purchaseTransition{
	ActionInitiatePayment: {from: []PurchaseStatus{PurchasePending}, to: PurchasePending},
	ActionSubmitProof:     {from: []PurchaseStatus{PurchasePending}, to: PurchasePending},
	ActionApprove:         {from: []PurchaseStatus{PurchasePending}, to: PurchaseCompleted},
	ActionReject:          {from: []PurchaseStatus{PurchasePending}, to: PurchasePending},
	ActionExpire:          {from: []PurchaseStatus{PurchasePending}, to: PurchaseFailed},
	ActionRefund:          {from: []PurchaseStatus{PurchaseCompleted}, to: PurchaseRefunded},
}

// Next returns the status reached by applying action to s.
func (s PurchaseStatus) Next(action PurchaseAction) (PurchaseStatus, error) {
	tr, ok := purchaseTransitions[action]
	if !ok {
		return s, errors.Wrapf(ErrInvalidTransition, "unknown action %q", action)
	}
	for _, from := range tr.from {
		if from == s {
			return tr.to, nil
		}
	}
	if action == ActionApprove && s == PurchaseCompleted {
		return s, ErrAlreadyApproved
	}
	return s, errors.Wrapf(ErrInvalidTransition, "cannot %s a %s purchase", action, s)
}

type PaymentMethod string

const (
	PaymentMTN    PaymentMethod = "mtn"
	PaymentAirtel PaymentMethod = "airtel"
)

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch PaymentMethod(strings.ToLower(strings.TrimSpace(s))) {
	case PaymentMTN:
		return PaymentMTN, nil
	case PaymentAirtel:
		return PaymentAirtel, nil
	}
	return "", errors.Wrapf(ErrInvalidPaymentMethod, "%q", s)
}

// ProviderCode is the three-letter prefix of transaction references.
func (m PaymentMethod) ProviderCode() string {
	switch m {
	case PaymentMTN:
		return "MTN"
	case PaymentAirtel:
		return "AIR"
	}
	return ""
}

// NewTransactionReference returns e.g. "MTN-1A2B3C4D".
func NewTransactionReference(m PaymentMethod) string {
	id := uuid.New()
	hex := strings.ReplaceAll(id.String(), "-", "")
	return m.ProviderCode() + "-" + strings.ToUpper(hex[:8])
}

// NewPurchase prices a pending purchase of quantity tickets. The total is
// fixed here and never recomputed.
func NewPurchase(tt TicketType, quantity int, email, phone string, userID *int64, now time.Time) (Purchase, error) {
	if quantity < 1 {
		return Purchase{}, errors.Wrap(ErrInvalidInput, "quantity must be at least 1")
	}
	if email == "" || phone == "" {
		return Purchase{}, errors.Wrap(ErrInvalidInput, "purchaser email and phone are required")
	}
	return Purchase{
		TicketTypeID:   tt.ID,
		UserID:         userID,
		Quantity:       quantity,
		TotalAmount:    tt.Price.Mul(decimal.NewFromInt(int64(quantity))),
		Status:         PurchasePending,
		PurchaserEmail: email,
		PurchaserPhone: phone,
		CreatedAt:      now,
	}, nil
}

func (p *Purchase) apply(action PurchaseAction) error {
	next, err := p.Status.Next(action)
	if err != nil {
		return err
	}
	p.Status = next
	return nil
}

func (p *Purchase) InitiatePayment(m PaymentMethod) error {
	if m.ProviderCode() == "" {
		return errors.Wrapf(ErrInvalidPaymentMethod, "%q", m)
	}
	if err := p.apply(ActionInitiatePayment); err != nil {
		return err
	}
	p.PaymentMethod = m
	p.TransactionReference = NewTransactionReference(m)
	return nil
}

func (p *Purchase) AttachProof(url string) error {
	if url == "" {
		return errors.Wrap(ErrInvalidInput, "payment proof is required")
	}
	if err := p.apply(ActionSubmitProof); err != nil {
		return err
	}
	p.PaymentProofURL = url
	return nil
}

func (p *Purchase) Approve(approver int64, at time.Time) error {
	if err := p.apply(ActionApprove); err != nil {
		return err
	}
	p.ApprovedBy = &approver
	p.ApprovalDate = &at
	return nil
}

// CheckReject validates a rejection; rejection records no state change.
func (p Purchase) CheckReject() error {
	_, err := p.Status.Next(ActionReject)
	return err
}

func (p *Purchase) Expire() error {
	return p.apply(ActionExpire)
}

func (p *Purchase) Refund() error {
	return p.apply(ActionRefund)
}
