package services

import "errors"

var (
	ErrNoActiveRate           = errors.New("no active rate for student and instructor")
	ErrRateNotFound           = errors.New("rate not found")
	ErrInvalidRate            = errors.New("invalid rate")
	ErrSessionNotFound        = errors.New("flight session not found")
	ErrSessionNotCompleted    = errors.New("flight session is not completed")
	ErrSessionNotAdjustable   = errors.New("flight session is not adjustable")
	ErrBillingRecordMissing   = errors.New("billing record not found for session")
	ErrSessionAlreadyBilled   = errors.New("flight session is already billed")
	ErrNoUnbilledSessions     = errors.New("no unbilled sessions found")
	ErrInvoiceNotFound        = errors.New("invoice not found")
	ErrInvoiceNotPaid         = errors.New("invoice is not paid")
	ErrInvoiceAlreadyPaid     = errors.New("invoice is already paid")
	ErrInvoiceAccountMismatch = errors.New("invoice does not belong to account")
	ErrNoPaymentReference     = errors.New("invoice has no payment reference")
	ErrPaymentNotCompleted    = errors.New("payment has not completed")
	ErrAmountMismatch         = errors.New("payment amount does not match invoice total")
	ErrChargeInvoiceMismatch  = errors.New("payment charge belongs to another invoice")
	ErrProcessorFailure       = errors.New("payment processor failure")
	ErrInsufficientBalance    = errors.New("insufficient account balance")
	ErrInsufficientHours      = errors.New("insufficient prepaid hours")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidHours           = errors.New("invalid hours")
	ErrInvalidTransaction     = errors.New("invalid transaction type")
	ErrInvalidAccountSettings = errors.New("invalid account settings")
	ErrWrongAccountMode       = errors.New("operation not supported for account type")
	ErrAccountNotActive       = errors.New("account is not active")
	ErrRefundExceedsPayment   = errors.New("refund exceeds refundable amount")
	ErrNotificationNotFound   = errors.New("notification not found")
	ErrRecipientRequired      = errors.New("notification recipient is required")
)
