package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"flightledger/internal/models"
	"flightledger/internal/money"
)

var ErrUnknownEvent = errors.New("unknown event kind")

const (
	CategoryPayment = "payment"
	CategoryAccount = "account"
	CategorySession = "session"
	CategoryBilling = "billing"
)

// Message is a rendered notification.
type Message struct {
	Title             string
	Body              string
	Category          string
	Link              string
	RelatedEntityID   string
	RelatedEntityType string
}

// Category derives the notification category from the event name.
func Category(kind models.EventKind) string {
	name := string(kind)
	switch {
	case strings.Contains(name, "payment"):
		return CategoryPayment
	case strings.Contains(name, "account"):
		return CategoryAccount
	case strings.Contains(name, "session"):
		return CategorySession
	}
	return CategoryBilling
}

// Render builds the user-facing title and message of an outbox event.
func Render(event models.OutboxEvent) (Message, error) {
	var p models.EventPayload
	if event.Payload != "" {
		if err := json.Unmarshal([]byte(event.Payload), &p); err != nil {
			return Message{}, fmt.Errorf("decode %s payload: %w", event.Kind, err)
		}
	}
	amount := func(minor int64) string {
		if p.Currency == "" {
			return money.FormatMinor(minor)
		}
		return p.Currency + " " + money.FormatMinor(minor)
	}
	msg := Message{
		Category:          Category(event.Kind),
		Link:              p.Link,
		RelatedEntityID:   p.RelatedEntityID,
		RelatedEntityType: p.RelatedEntityType,
	}
	switch event.Kind {
	case models.EventPaymentReceived:
		msg.Title = "Payment received"
		msg.Body = fmt.Sprintf("Payment of %s received for invoice %s.", amount(p.Amount), p.InvoiceNumber)
	case models.EventPaymentFailed:
		msg.Title = "Payment failed"
		msg.Body = fmt.Sprintf("Payment of %s for invoice %s failed", amount(p.Amount), p.InvoiceNumber)
		msg.Body += withReason(p.Reason)
	case models.EventLowAccountBalance:
		msg.Title = "Low account balance"
		msg.Body = fmt.Sprintf("Your account balance is %s, below your alert threshold of %s. Add funds to keep flying.", amount(p.Balance), amount(p.Threshold))
	case models.EventInvoiceOverdue:
		msg.Title = "Invoice overdue"
		msg.Body = fmt.Sprintf("Invoice %s for %s was due on %s.", p.InvoiceNumber, amount(p.Amount), p.DueDate)
	case models.EventFlightSessionCompleted:
		msg.Title = "Flight session completed"
		lesson := p.Reason
		if lesson == "" {
			lesson = "Your flight session"
		}
		msg.Body = fmt.Sprintf("%s has been billed at %s.", lesson, amount(p.Amount))
	case models.EventSessionAdjusted:
		msg.Title = "Billing adjusted"
		switch {
		case p.RefundAmount > 0 && p.InvoiceNumber != "":
			msg.Body = fmt.Sprintf("A refund of %s was issued for invoice %s", amount(p.RefundAmount), p.InvoiceNumber)
		case p.RefundAmount > 0:
			msg.Body = fmt.Sprintf("A flight session was adjusted and %s was credited to your account", amount(p.RefundAmount))
		case p.AdditionalCharge > 0:
			msg.Body = fmt.Sprintf("A flight session was adjusted and an additional %s was charged", amount(p.AdditionalCharge))
		default:
			msg.Body = "A flight session was adjusted with no change in cost"
		}
		msg.Body += withReason(p.Reason)
	case models.EventPINVerificationFailed:
		msg.Title = "PIN verification failed"
		msg.Body = "A PIN verification attempt failed"
		msg.Body += withReason(p.Reason)
	default:
		return Message{}, fmt.Errorf("%w: %s", ErrUnknownEvent, event.Kind)
	}
	if msg.Link == "" {
		msg.Link = defaultLink(p)
	}
	return msg, nil
}

func withReason(reason string) string {
	if reason == "" {
		return "."
	}
	return ": " + reason + "."
}

func defaultLink(p models.EventPayload) string {
	switch p.RelatedEntityType {
	case "invoice":
		return "/invoices/" + p.RelatedEntityID
	case "flight_session":
		return "/sessions/" + p.RelatedEntityID
	case "account":
		return "/account"
	}
	return ""
}
