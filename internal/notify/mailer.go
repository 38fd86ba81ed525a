package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

var (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

type Email struct {
	ToName    string
	ToAddress string
	Subject   string
	Text      string
}

type Mailer interface {
	Send(ctx context.Context, email Email) error
}

// SendgridMailer sends plain text mail through the SendGrid v3 API.
type SendgridMailer struct {
	key           string
	from          *sgmail.Email
	subjectPrefix string
}

func NewSendgridMailer(key, appName, fromEmail string) *SendgridMailer {
	return &SendgridMailer{
		key:           key,
		from:          sgmail.NewEmail(appName, fromEmail),
		subjectPrefix: "[" + appName + "] ",
	}
}

func (m *SendgridMailer) prepare(email Email) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = m.subjectPrefix + email.Subject
	p.AddTos(sgmail.NewEmail(email.ToName, email.ToAddress))

	msg := sgmail.NewV3Mail()
	msg.SetFrom(m.from)
	msg.AddPersonalizations(p)
	msg.AddContent(sgmail.NewContent("text/plain", email.Text))
	return msg
}

func (m *SendgridMailer) Send(ctx context.Context, email Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	req := sendgrid.GetRequest(m.key, sendgridEndpoint, sendgridHost)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(m.prepare(email))

	res, err := sendgrid.API(req)
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid: status %d: %s", res.StatusCode, res.Body)
	}
	return nil
}
