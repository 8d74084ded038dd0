package services

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"mime"
	"net/smtp"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/code-Quester/SpeakSutra/internal/config"
	"github.com/code-Quester/SpeakSutra/internal/models"
)

//go:embed emails/*.html
var emailFS embed.FS

var emailTemplates = template.Must(template.ParseFS(emailFS, "emails/*.html"))

const (
	subjectPaymentConfirmed = "Payment Confirmed - SpeakSutra Course Enrollment ✅"
	subjectWelcome          = "Welcome to SpeakSutra - Your Public Speaking Journey Begins! 🎤"
)

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type EmailService struct {
	host     string
	port     string
	user     string
	password string
	from     string
	course   config.Course
	send     sendMailFunc
}

func NewEmailService(cfg config.SMTP, course config.Course) *EmailService {
	from := cfg.From
	if from == "" {
		from = cfg.User
	}
	return &EmailService{
		host:     cfg.Host,
		port:     cfg.Port,
		user:     cfg.User,
		password: cfg.Password,
		from:     from,
		course:   course,
		send:     smtp.SendMail,
	}
}

// Configured reports whether SMTP credentials are complete.
func (s *EmailService) Configured() bool {
	return s.host != "" && s.port != "" && s.user != "" && s.password != ""
}

// SendHTML sends an HTML message.
func (s *EmailService) SendHTML(to []string, subject, html string) error {
	return s.deliver(to, subject, "text/html", html)
}

func (s *EmailService) deliver(to []string, subject, contentType, body string) error {
	if !s.Configured() {
		return fmt.Errorf("SMTP credentials not fully configured")
	}
	if len(to) == 0 {
		return fmt.Errorf("no recipients")
	}

	auth := smtp.PlainAuth("", s.user, s.password, s.host)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	msg := buildMessage(s.from, to, subject, contentType, body)

	if err := s.send(addr, auth, s.from, to, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func buildMessage(from string, to []string, subject, contentType, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: \"SpeakSutra\" <%s>\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.BEncoding.Encode("UTF-8", subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: %s; charset=\"UTF-8\"\r\n", contentType)
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}

// SendPaymentConfirmation emails the receipt for a completed enrollment.
func (s *EmailService) SendPaymentConfirmation(c *models.Customer) error {
	body, err := renderEmail("payment_confirmation.html", map[string]string{
		"Name":       c.Name,
		"OrderID":    c.OrderID,
		"Amount":     FormatAmount(c.Amount, c.Currency),
		"CourseName": s.course.Name,
	})
	if err != nil {
		return err
	}
	return s.SendHTML([]string{c.Email}, subjectPaymentConfirmed, body)
}

// SendWelcome emails the onboarding message with the WhatsApp group link.
func (s *EmailService) SendWelcome(c *models.Customer) error {
	body, err := renderEmail("welcome.html", map[string]string{
		"Name":         c.Name,
		"CourseName":   s.course.Name,
		"WhatsappLink": s.course.WhatsappGroupLink,
		"SupportEmail": s.course.SupportEmail,
	})
	if err != nil {
		return err
	}
	return s.SendHTML([]string{c.Email}, subjectWelcome, body)
}

// SummaryReport is the data of the operator's daily enrollment summary.
type SummaryReport struct {
	Date      string
	Completed int64
	Pending   int64
	Failed    int64
	Total     int64
	Revenue   string
}

// SendSummary emails the enrollment summary to the operator.
func (s *EmailService) SendSummary(to string, report SummaryReport) error {
	body, err := renderEmail("summary.html", report)
	if err != nil {
		return err
	}
	return s.SendHTML([]string{to}, "SpeakSutra enrollment summary "+report.Date, body)
}

func renderEmail(name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := emailTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

var amountPrinter = message.NewPrinter(language.English)

// FormatAmount renders minor units with the currency symbol and thousands separators,
// e.g. 149900 INR is "₹1,499".
func FormatAmount(minor int64, currency string) string {
	symbol := currency + " "
	switch currency {
	case "INR":
		symbol = "₹"
	case "IDR":
		symbol = "Rp"
	case "USD":
		symbol = "$"
	}

	out := symbol + amountPrinter.Sprintf("%d", minor/100)
	if cents := minor % 100; cents != 0 {
		out += fmt.Sprintf(".%02d", cents)
	}
	return out
}
