package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSendgridPrepare(t *testing.T) {
	m := NewSendgridMailer("key", "FlightLedger", "billing@example.com")
	msg := m.prepare(Email{ToName: "Sam Student", ToAddress: "sam@example.com", Subject: "Invoice paid", Text: "Thanks"})

	if msg.From == nil || msg.From.Address != "billing@example.com" || msg.From.Name != "FlightLedger" {
		t.Fatalf("unexpected sender: %+v", msg.From)
	}
	if len(msg.Personalizations) != 1 {
		t.Fatalf("expected one personalization, got %d", len(msg.Personalizations))
	}
	p := msg.Personalizations[0]
	if p.Subject != "[FlightLedger] Invoice paid" {
		t.Fatalf("unexpected subject: %q", p.Subject)
	}
	if len(p.To) != 1 || p.To[0].Address != "sam@example.com" || p.To[0].Name != "Sam Student" {
		t.Fatalf("unexpected recipients: %+v", p.To)
	}
	if len(msg.Content) != 1 || msg.Content[0].Type != "text/plain" || msg.Content[0].Value != "Thanks" {
		t.Fatalf("unexpected content: %+v", msg.Content)
	}
}

func TestSendgridSend(t *testing.T) {
	var (
		gotPath string
		gotAuth string
		gotBody map[string]any
	)
	status := http.StatusAccepted
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"errors":[{"message":"bad"}]}`))
	}))
	defer server.Close()

	previous := sendgridHost
	sendgridHost = server.URL
	defer func() { sendgridHost = previous }()

	m := NewSendgridMailer("sg-key", "FlightLedger", "billing@example.com")
	email := Email{ToAddress: "sam@example.com", Subject: "Low balance", Text: "Top up"}
	if err := m.Send(context.Background(), email); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != sendgridEndpoint || gotAuth != "Bearer sg-key" {
		t.Fatalf("unexpected request: path=%q auth=%q", gotPath, gotAuth)
	}
	if _, ok := gotBody["personalizations"]; !ok {
		t.Fatalf("request body missing personalizations: %v", gotBody)
	}

	status = http.StatusBadRequest
	if err := m.Send(context.Background(), email); err == nil || !strings.Contains(err.Error(), "status 400") {
		t.Fatalf("expected status error, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Send(ctx, email); err == nil {
		t.Fatal("expected cancelled context error")
	}
}
