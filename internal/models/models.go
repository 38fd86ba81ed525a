package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type AccountType string

const (
	AccountFlexible  AccountType = "flexible"
	AccountHoursOnly AccountType = "hours_only"
	AccountLegacy    AccountType = "legacy"
)

func (t AccountType) Valid() bool {
	switch t {
	case AccountFlexible, AccountHoursOnly, AccountLegacy:
		return true
	}
	return false
}

type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountSuspended AccountStatus = "suspended"
	AccountClosed    AccountStatus = "closed"
)

func (s AccountStatus) Valid() bool {
	switch s {
	case AccountActive, AccountSuspended, AccountClosed:
		return true
	}
	return false
}

type TransactionType string

const (
	TxFlightDebit TransactionType = "flight_debit"
	TxGroundDebit TransactionType = "ground_debit"
	TxCashCredit  TransactionType = "cash_credit"
	TxCashDebit   TransactionType = "cash_debit"
	TxHoursCredit TransactionType = "hours_credit"
	TxRefund      TransactionType = "refund"
	TxAdjustment  TransactionType = "adjustment"
)

// IsCredit reports whether the type increases the account.
func (t TransactionType) IsCredit() bool {
	return t == TxCashCredit || t == TxHoursCredit || t == TxRefund
}

type BillingStatus string

const (
	BillingPending  BillingStatus = "pending"
	BillingInvoiced BillingStatus = "invoiced"
	BillingPaid     BillingStatus = "paid"
)

type InvoiceStatus string

const (
	InvoiceDraft             InvoiceStatus = "draft"
	InvoiceSent              InvoiceStatus = "sent"
	InvoicePaid              InvoiceStatus = "paid"
	InvoicePartiallyRefunded InvoiceStatus = "partially_refunded"
	InvoiceOverdue           InvoiceStatus = "overdue"
	InvoiceCancelled         InvoiceStatus = "cancelled"
)

type LineItemType string

const (
	LineFlight    LineItemType = "flight"
	LinePrebrief  LineItemType = "prebrief"
	LinePostbrief LineItemType = "postbrief"
)

const (
	ReferenceSessionAdjustment = "session_adjustment"
	ReferenceInvoice           = "invoice"
	ReferenceHoursPurchase     = "hours_purchase"
	ReferenceFlexiblePayment   = "flexible_payment"
	ReferenceFunds             = "funds"
)

const FlightSessionCompleted = "completed"

// RateSchedule holds hourly rates in minor currency units per hour.
type RateSchedule struct {
	ID                    string    `db:"id" json:"id"`
	StudentID             string    `db:"student_id" json:"student_id"`
	InstructorID          string    `db:"instructor_id" json:"instructor_id"`
	FlightInstructionRate int64     `db:"flight_instruction_rate" json:"flight_instruction_rate"`
	GroundInstructionRate int64     `db:"ground_instruction_rate" json:"ground_instruction_rate"`
	EffectiveDate         time.Time `db:"effective_date" json:"effective_date"`
	IsActive              bool      `db:"is_active" json:"is_active"`
	CreatedAt             time.Time `db:"created_at" json:"created_at"`
}

type Account struct {
	ID                  string          `db:"id" json:"id"`
	StudentID           string          `db:"student_id" json:"student_id"`
	InstructorID        string          `db:"instructor_id" json:"instructor_id"`
	AccountBalance      int64           `db:"account_balance" json:"account_balance"`
	PrepaidFlightHours  decimal.Decimal `db:"prepaid_flight_hours" json:"prepaid_flight_hours"`
	PrepaidGroundHours  decimal.Decimal `db:"prepaid_ground_hours" json:"prepaid_ground_hours"`
	AccountType         AccountType     `db:"account_type" json:"account_type"`
	LowBalanceThreshold int64           `db:"low_balance_threshold" json:"low_balance_threshold"`
	Status              AccountStatus   `db:"status" json:"status"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at" json:"updated_at"`
}

// AccountMode is the billing mode of an account: FlexibleMode or LegacyMode.
type AccountMode interface {
	accountMode()
}

type FlexibleMode struct {
	Balance int64
}

type LegacyMode struct {
	FlightHours decimal.Decimal
	GroundHours decimal.Decimal
}

func (FlexibleMode) accountMode() {}
func (LegacyMode) accountMode()   {}

func (a Account) Mode() AccountMode {
	if a.AccountType == AccountFlexible {
		return FlexibleMode{Balance: a.AccountBalance}
	}
	return LegacyMode{FlightHours: a.PrepaidFlightHours, GroundHours: a.PrepaidGroundHours}
}

type BillingTransaction struct {
	ID                      string          `db:"id" json:"id"`
	AccountID               string          `db:"account_id" json:"account_id"`
	StudentID               string          `db:"student_id" json:"student_id"`
	InstructorID            string          `db:"instructor_id" json:"instructor_id"`
	TransactionType         TransactionType `db:"transaction_type" json:"transaction_type"`
	FlightHours             decimal.Decimal `db:"flight_hours" json:"flight_hours"`
	GroundHours             decimal.Decimal `db:"ground_hours" json:"ground_hours"`
	CashAmount              int64           `db:"cash_amount" json:"cash_amount"`
	Description             string          `db:"description" json:"description"`
	ReferenceType           *string         `db:"reference_type" json:"reference_type,omitempty"`
	ReferenceID             *string         `db:"reference_id" json:"reference_id,omitempty"`
	CashBalanceAfter        int64           `db:"cash_balance_after" json:"cash_balance_after"`
	FlightHoursBalanceAfter decimal.Decimal `db:"flight_hours_balance_after" json:"flight_hours_balance_after"`
	GroundHoursBalanceAfter decimal.Decimal `db:"ground_hours_balance_after" json:"ground_hours_balance_after"`
	ProcessedBy             *string         `db:"processed_by" json:"processed_by,omitempty"`
	CreatedAt               time.Time       `db:"created_at" json:"created_at"`
}

// FlightSession is the externally owned record of a flown lesson.
type FlightSession struct {
	ID             string          `db:"id"`
	StudentID      string          `db:"student_id"`
	InstructorID   string          `db:"instructor_id"`
	Status         string          `db:"status"`
	FlightHours    decimal.Decimal `db:"flight_hours"`
	PrebriefHours  decimal.Decimal `db:"prebrief_hours"`
	PostbriefHours decimal.Decimal `db:"postbrief_hours"`
	LessonTitle    *string         `db:"lesson_title"`
}

type FlightSessionBilling struct {
	ID                    string          `db:"id" json:"id"`
	FlightSessionID       string          `db:"flight_session_id" json:"flight_session_id"`
	StudentID             string          `db:"student_id" json:"student_id"`
	InstructorID          string          `db:"instructor_id" json:"instructor_id"`
	FlightHours           decimal.Decimal `db:"flight_hours" json:"flight_hours"`
	PrebriefHours         decimal.Decimal `db:"prebrief_hours" json:"prebrief_hours"`
	PostbriefHours        decimal.Decimal `db:"postbrief_hours" json:"postbrief_hours"`
	FlightInstructionRate int64           `db:"flight_instruction_rate" json:"flight_instruction_rate"`
	GroundInstructionRate int64           `db:"ground_instruction_rate" json:"ground_instruction_rate"`
	FlightCost            int64           `db:"flight_cost" json:"flight_cost"`
	GroundCost            int64           `db:"ground_cost" json:"ground_cost"`
	TotalCost             int64           `db:"total_cost" json:"total_cost"`
	BillingStatus         BillingStatus   `db:"billing_status" json:"billing_status"`
	InvoiceID             *string         `db:"invoice_id" json:"invoice_id,omitempty"`
	InstructorApproved    bool            `db:"instructor_approved" json:"instructor_approved"`
	InstructorApprovedAt  *time.Time      `db:"instructor_approved_at" json:"instructor_approved_at,omitempty"`
	StudentAcknowledged   bool            `db:"student_acknowledged" json:"student_acknowledged"`
	StudentAcknowledgedAt *time.Time      `db:"student_acknowledged_at" json:"student_acknowledged_at,omitempty"`
	LessonTitle           *string         `db:"lesson_title" json:"lesson_title,omitempty"`
	CreatedAt             time.Time       `db:"created_at" json:"created_at"`
}

// GroundHours is prebrief plus postbrief.
func (b FlightSessionBilling) GroundHours() decimal.Decimal {
	return b.PrebriefHours.Add(b.PostbriefHours)
}

type Invoice struct {
	ID                       string          `db:"id" json:"id"`
	InvoiceNumber            string          `db:"invoice_number" json:"invoice_number"`
	StudentID                string          `db:"student_id" json:"student_id"`
	InstructorID             string          `db:"instructor_id" json:"instructor_id"`
	FlightHours              decimal.Decimal `db:"flight_hours" json:"flight_hours"`
	GroundHours              decimal.Decimal `db:"ground_hours" json:"ground_hours"`
	FlightRate               int64           `db:"flight_rate" json:"flight_rate"`
	GroundRate               int64           `db:"ground_rate" json:"ground_rate"`
	FlightAmount             int64           `db:"flight_amount" json:"flight_amount"`
	GroundAmount             int64           `db:"ground_amount" json:"ground_amount"`
	TotalAmount              int64           `db:"total_amount" json:"total_amount"`
	RefundedAmount           int64           `db:"refunded_amount" json:"refunded_amount"`
	Status                   InvoiceStatus   `db:"status" json:"status"`
	DueDate                  time.Time       `db:"due_date" json:"due_date"`
	PaidDate                 *time.Time      `db:"paid_date" json:"paid_date,omitempty"`
	PaymentMethod            *string         `db:"payment_method" json:"payment_method,omitempty"`
	ExternalPaymentReference *string         `db:"external_payment_reference" json:"external_payment_reference,omitempty"`
	Notes                    *string         `db:"notes" json:"notes,omitempty"`
	StudentName              *string         `db:"student_name" json:"student_name,omitempty"`
	InstructorName           *string         `db:"instructor_name" json:"instructor_name,omitempty"`
	CreatedAt                time.Time       `db:"created_at" json:"created_at"`

	LineItems []InvoiceLineItem `db:"-" json:"line_items"`
}

type InvoiceLineItem struct {
	ID              string          `db:"id" json:"id"`
	InvoiceID       string          `db:"invoice_id" json:"invoice_id"`
	FlightSessionID string          `db:"flight_session_id" json:"flight_session_id"`
	ItemType        LineItemType    `db:"item_type" json:"item_type"`
	Description     string          `db:"description" json:"description"`
	Hours           decimal.Decimal `db:"hours" json:"hours"`
	Rate            int64           `db:"rate" json:"rate"`
	Amount          int64           `db:"amount" json:"amount"`
}

type HoursPurchase struct {
	ID            string          `db:"id" json:"id"`
	StudentID     string          `db:"student_id" json:"student_id"`
	InstructorID  string          `db:"instructor_id" json:"instructor_id"`
	FlightHours   decimal.Decimal `db:"flight_hours" json:"flight_hours"`
	GroundHours   decimal.Decimal `db:"ground_hours" json:"ground_hours"`
	AmountPaid    int64           `db:"amount_paid" json:"amount_paid"`
	PaymentMethod string          `db:"payment_method" json:"payment_method"`
	ProcessedBy   *string         `db:"processed_by" json:"processed_by,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

type Profile struct {
	ID       string  `db:"id"`
	FullName *string `db:"full_name"`
	Email    *string `db:"email"`
}

type EventKind string

const (
	EventPaymentReceived        EventKind = "payment_received"
	EventPaymentFailed          EventKind = "payment_failed"
	EventLowAccountBalance      EventKind = "low_account_balance"
	EventInvoiceOverdue         EventKind = "invoice_overdue"
	EventFlightSessionCompleted EventKind = "flight_session_completed"
	EventSessionAdjusted        EventKind = "session_adjusted"
	EventPINVerificationFailed  EventKind = "pin_verification_failed"
)

// OutboxEvent is a pending notification written in the same transaction as
// the billing change that caused it.
type OutboxEvent struct {
	ID          string     `db:"id"`
	Kind        EventKind  `db:"kind"`
	UserID      string     `db:"user_id"`
	Payload     string     `db:"payload"`
	Attempts    int        `db:"attempts"`
	LastError   *string    `db:"last_error"`
	AvailableAt time.Time  `db:"available_at"`
	DeliveredAt *time.Time `db:"delivered_at"`
	CreatedAt   time.Time  `db:"created_at"`
}

// EventPayload carries the facts a notification is rendered from.
type EventPayload struct {
	Amount            int64  `json:"amount,omitempty"`
	Balance           int64  `json:"balance,omitempty"`
	Threshold         int64  `json:"threshold,omitempty"`
	InvoiceID         string `json:"invoice_id,omitempty"`
	InvoiceNumber     string `json:"invoice_number,omitempty"`
	SessionID         string `json:"session_id,omitempty"`
	Reason            string `json:"reason,omitempty"`
	RefundAmount      int64  `json:"refund_amount,omitempty"`
	AdditionalCharge  int64  `json:"additional_charge,omitempty"`
	DueDate           string `json:"due_date,omitempty"`
	Currency          string `json:"currency,omitempty"`
	Link              string `json:"link,omitempty"`
	RelatedEntityID   string `json:"related_entity_id,omitempty"`
	RelatedEntityType string `json:"related_entity_type,omitempty"`
}

type Notification struct {
	ID                string     `db:"id" json:"id"`
	UserID            string     `db:"user_id" json:"user_id"`
	Title             string     `db:"title" json:"title"`
	Message           string     `db:"message" json:"message"`
	Category          string     `db:"category" json:"category"`
	Link              *string    `db:"link" json:"link,omitempty"`
	RelatedEntityID   *string    `db:"related_entity_id" json:"related_entity_id,omitempty"`
	RelatedEntityType *string    `db:"related_entity_type" json:"related_entity_type,omitempty"`
	IsRead            bool       `db:"is_read" json:"is_read"`
	ReadAt            *time.Time `db:"read_at" json:"read_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
}
