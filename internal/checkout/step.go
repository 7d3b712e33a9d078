package checkout

import (
	"errors"
	"fmt"
)

type Step int

const (
	StepReview Step = iota + 1
	StepShipping
	StepPayment
	StepConfirmation
)

func (s Step) String() string {
	switch s {
	case StepReview:
		return "REVIEW"
	case StepShipping:
		return "SHIPPING"
	case StepPayment:
		return "PAYMENT"
	case StepConfirmation:
		return "CONFIRMATION"
	default:
		return fmt.Sprintf("STEP(%d)", int(s))
	}
}

// CanTransitionTo allows one step forward, or one step back from Shipping and Payment.
func (s Step) CanTransitionTo(next Step) bool {
	switch s {
	case StepReview:
		return next == StepShipping
	case StepShipping:
		return next == StepReview || next == StepPayment
	case StepPayment:
		return next == StepShipping || next == StepConfirmation
	default:
		return false
	}
}

func (s Step) IsTerminal() bool {
	return s == StepConfirmation
}

var (
	ErrIllegalTransition = errors.New("illegal checkout transition")
	ErrTransitionPending = errors.New("a checkout step is already in progress")
	ErrCheckoutAborted   = errors.New("checkout aborted")
	ErrPaymentFailed     = errors.New("payment failed, order not placed")
	ErrNoCheckout        = errors.New("no checkout in progress")
)

type IllegalTransitionError struct {
	From Step
	To   Step
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal checkout transition from %s to %s", e.From, e.To)
}

func (e *IllegalTransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

// PaymentFailedError means the remote returned an order whose payment was rejected.
type PaymentFailedError struct {
	OrderNumber   string
	PaymentStatus string
}

func (e *PaymentFailedError) Error() string {
	return fmt.Sprintf("payment %s for order %s, order not placed", e.PaymentStatus, e.OrderNumber)
}

func (e *PaymentFailedError) Is(target error) bool {
	return target == ErrPaymentFailed
}
