package domain

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPurchaseStatusNext(t *testing.T) {
	cases := []struct {
		from    PurchaseStatus
		action  PurchaseAction
		want    PurchaseStatus
		wantErr error
	}{
		{PurchasePending, ActionInitiatePayment, PurchasePending, nil},
		{PurchasePending, ActionSubmitProof, PurchasePending, nil},
		{PurchasePending, ActionApprove, PurchaseCompleted, nil},
		{PurchasePending, ActionReject, PurchasePending, nil},
		{PurchasePending, ActionExpire, PurchaseFailed, nil},
		{PurchaseCompleted, ActionApprove, PurchaseCompleted, ErrAlreadyApproved},
		{PurchaseCompleted, ActionRefund, PurchaseRefunded, nil},
		{PurchaseCompleted, ActionSubmitProof, PurchaseCompleted, ErrInvalidTransition},
		{PurchaseCompleted, ActionExpire, PurchaseCompleted, ErrInvalidTransition},
		{PurchaseFailed, ActionApprove, PurchaseFailed, ErrInvalidTransition},
		{PurchaseRefunded, ActionInitiatePayment, PurchaseRefunded, ErrInvalidTransition},
		{PurchasePending, PurchaseAction("teleport"), PurchasePending, ErrInvalidTransition},
	}

	for _, tt := range cases {
		got, err := tt.from.Next(tt.action)
		if tt.wantErr != nil {
			assert.Truef(t, errors.Is(err, tt.wantErr), "Next(%s, %s) err=%v, want %v", tt.from, tt.action, err, tt.wantErr)
			continue
		}
		require.NoErrorf(t, err, "Next(%s, %s)", tt.from, tt.action)
		assert.Equalf(t, tt.want, got, "Next(%s, %s)", tt.from, tt.action)
	}
}

func TestNewPurchaseFixesTotal(t *testing.T) {
	tt := TicketType{ID: 4, Price: decimal.RequireFromString("1000")}
	p, err := NewPurchase(tt, 3, "a@b.c", "0700", nil, time.Now())
	require.NoError(t, err)
	assert.True(t, p.TotalAmount.Equal(decimal.NewFromInt(3000)), "total=%s", p.TotalAmount)
	assert.Equal(t, PurchasePending, p.Status)

	_, err = NewPurchase(tt, 0, "a@b.c", "0700", nil, time.Now())
	assert.True(t, errors.Is(err, ErrInvalidInput), "got %v", err)
}

func TestInitiatePaymentReference(t *testing.T) {
	for _, m := range []PaymentMethod{PaymentMTN, PaymentAirtel} {
		p := Purchase{Status: PurchasePending}
		require.NoError(t, p.InitiatePayment(m))
		assert.Regexp(t, `^(MTN|AIR)-[0-9A-F]{8}$`, p.TransactionReference)
		assert.Equal(t, PurchasePending, p.Status)
	}

	p := Purchase{Status: PurchasePending}
	err := p.InitiatePayment(PaymentMethod("visa"))
	assert.True(t, errors.Is(err, ErrInvalidPaymentMethod), "got %v", err)

	m, err := ParsePaymentMethod("Airtel ")
	require.NoError(t, err)
	assert.Equal(t, PaymentAirtel, m)
}

func TestApproveOnlyOnce(t *testing.T) {
	p := Purchase{Status: PurchasePending}
	now := time.Now()
	require.NoError(t, p.Approve(9, now))
	assert.True(t, p.Approved())
	require.NotNil(t, p.ApprovedBy)
	assert.Equal(t, int64(9), *p.ApprovedBy)

	err := p.Approve(9, now)
	assert.True(t, errors.Is(err, ErrAlreadyApproved), "got %v", err)
}

func TestAwaitingApproval(t *testing.T) {
	p := Purchase{Status: PurchasePending}
	assert.False(t, p.AwaitingApproval(), "purchase without proof must not await approval")

	require.NoError(t, p.AttachProof("https://cdn/proof.png"))
	assert.True(t, p.AwaitingApproval())

	require.NoError(t, p.Approve(1, time.Now()))
	assert.False(t, p.AwaitingApproval(), "approved purchase left in queue")
}
