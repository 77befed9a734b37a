package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Message is a rendered notification.
type Message struct {
	JobID   string
	To      string
	Subject string
	Text    string
}

// Sender delivers a message and returns the provider's message id.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

var subjects = map[Kind]*template.Template{
	KindAdminNewOrder:        template.Must(template.New("admin_subject").Parse(`New paid order {{.OrderID}}`)),
	KindCustomerConfirmation: template.Must(template.New("customer_subject").Parse(`Your order {{.OrderID}} is confirmed`)),
}

var bodies = map[Kind]*template.Template{
	KindAdminNewOrder: template.Must(template.New("admin_body").Parse(
		`Order {{.OrderID}} ({{.Reference}}) was paid: {{.TotalAmount}} {{.Currency}}.
Customer: {{.CustomerName}} <{{.CustomerEmail}}>
{{range .Items}}- {{.Quantity}} x {{.Name}}
{{end}}`)),
	KindCustomerConfirmation: template.Must(template.New("customer_body").Parse(
		`Hi {{.CustomerName}}, we received your payment of {{.TotalAmount}} {{.Currency}} for order {{.OrderID}}.
{{range .Items}}- {{.Quantity}} x {{.Name}}
{{end}}`)),
}

// Renderer turns jobs into messages. Admin notifications go to adminEmail,
// customer notifications to the address captured on the order.
type Renderer struct {
	adminEmail string
}

func NewRenderer(adminEmail string) *Renderer {
	return &Renderer{adminEmail: adminEmail}
}

func (r *Renderer) Render(job *Job) (Message, error) {
	var to string
	switch job.Kind {
	case KindAdminNewOrder:
		to = r.adminEmail
	case KindCustomerConfirmation:
		to = job.Payload.CustomerEmail
	default:
		return Message{}, fmt.Errorf("render: unknown kind %q", job.Kind)
	}
	if strings.TrimSpace(to) == "" {
		return Message{}, fmt.Errorf("render %s: no recipient address", job.Kind)
	}

	var subject, body bytes.Buffer
	if err := subjects[job.Kind].Execute(&subject, job.Payload); err != nil {
		return Message{}, fmt.Errorf("render subject: %w", err)
	}
	if err := bodies[job.Kind].Execute(&body, job.Payload); err != nil {
		return Message{}, fmt.Errorf("render body: %w", err)
	}
	return Message{JobID: job.JobID, To: to, Subject: subject.String(), Text: body.String()}, nil
}

// HTTPSender posts messages to a transactional mail API.
type HTTPSender struct {
	URL    string
	APIKey string
	From   string
	HTTP   *http.Client
}

func NewHTTPSender(url, apiKey, from string, timeout time.Duration) *HTTPSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSender{URL: url, APIKey: apiKey, From: from, HTTP: &http.Client{Timeout: timeout}}
}

type mailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
}

type mailResponse struct {
	ID string `json:"id"`
}

func (s *HTTPSender) Send(ctx context.Context, msg Message) (string, error) {
	b, err := json.Marshal(mailRequest{From: s.From, To: []string{msg.To}, Subject: msg.Subject, Text: msg.Text})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.APIKey)
	// lets the provider drop a resend after a lost acknowledgement
	req.Header.Set("Idempotency-Key", msg.JobID)

	resp, err := s.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("mail api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var out mailResponse
	if err := json.Unmarshal(raw, &out); err != nil || out.ID == "" {
		return "", errors.New("mail api response carries no message id")
	}
	return out.ID, nil
}

// LogSender only logs. Used when no mail API is configured.
type LogSender struct {
	Log logrus.FieldLogger
}

func (s LogSender) Send(_ context.Context, msg Message) (string, error) {
	id := "log-" + uuid.NewString()
	s.Log.WithFields(logrus.Fields{"job_id": msg.JobID, "to": msg.To, "subject": msg.Subject, "message_id": id}).Info("notification (log sender)")
	return id, nil
}
