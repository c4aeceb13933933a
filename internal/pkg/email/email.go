package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/qs3c/entitlement_server/config"
)

// 通知类型
const (
	KindCanceled    = "cancel"
	KindReactivated = "reactivate"
	KindRefunded    = "refund"
	KindLapsed      = "lapsed"
)

// Message 一封待发送的邮件
type Message struct {
	To      string
	Subject string
	Body    string
}

// Notification 渲染模板所需的数据
type Notification struct {
	Kind         string
	PlanName     string
	PeriodEnd    time.Time
	RefundAmount int64
	Currency     string
}

type Service struct {
	cfg *config.EmailConfig
}

func NewService(cfg *config.EmailConfig) *Service {
	return &Service{cfg: cfg}
}

const layout = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
</head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
        <h2 style="color: #2563eb;">{{.Title}}</h2>
        <p>Hello,</p>
        {{range .Lines}}<p>{{.}}</p>
        {{end}}<hr style="border: none; border-top: 1px solid #e5e7eb; margin: 20px 0;">
        <p style="color: #6b7280; font-size: 12px;">This email was sent automatically, please do not reply.</p>
    </div>
</body>
</html>
`

var bodyTmpl = template.Must(template.New("notification").Parse(layout))

// Compose 根据通知类型生成邮件
func Compose(to string, n Notification) (*Message, error) {
	var title string
	var lines []string
	until := n.PeriodEnd.UTC().Format("2006-01-02")

	switch n.Kind {
	case KindCanceled:
		title = "Your subscription was canceled"
		lines = []string{
			fmt.Sprintf("Your %s subscription has been canceled and will not renew.", n.PlanName),
			fmt.Sprintf("You keep access until %s.", until),
		}
	case KindReactivated:
		title = "Your subscription is active again"
		lines = []string{
			fmt.Sprintf("Your %s subscription has been reactivated.", n.PlanName),
			fmt.Sprintf("The current period ends on %s.", until),
		}
	case KindRefunded:
		title = "Refund issued"
		lines = []string{
			fmt.Sprintf("A refund of %s for your %s subscription has been issued.", FormatAmount(n.RefundAmount, n.Currency), n.PlanName),
			"It may take a few business days to appear on your statement.",
		}
	case KindLapsed:
		title = "Your paid access has ended"
		lines = []string{
			fmt.Sprintf("Your %s subscription period ended on %s.", n.PlanName, until),
			"You can reactivate it at any time.",
		}
	default:
		return nil, errors.Errorf("unknown notification kind %q", n.Kind)
	}

	var buf bytes.Buffer
	if err := bodyTmpl.Execute(&buf, struct {
		Title string
		Lines []string
	}{title, lines}); err != nil {
		return nil, errors.Wrap(err, "failed to render notification")
	}

	return &Message{To: to, Subject: title, Body: buf.String()}, nil
}

// FormatAmount 把最小货币单位格式化为 "12.50 USD"
func FormatAmount(amount int64, currency string) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, amount/100, amount%100, strings.ToUpper(currency))
}

// Send 发送 HTML 邮件
func (s *Service) Send(msg *Message) error {
	if strings.ContainsAny(msg.To, "\r\n") || strings.ContainsAny(msg.Subject, "\r\n") {
		return errors.New("invalid header value")
	}

	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.SMTPHost)
	addr := fmt.Sprintf("%s:%d", s.cfg.SMTPHost, s.cfg.SMTPPort)

	return smtp.SendMail(addr, auth, s.cfg.From, []string{msg.To}, s.build(msg))
}

func (s *Service) build(msg *Message) []byte {
	headers := map[string]string{
		"From":         s.cfg.From,
		"To":           msg.To,
		"Subject":      msg.Subject,
		"MIME-Version": "1.0",
		"Content-Type": "text/html; charset=UTF-8",
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(fmt.Sprintf("%s: %s\r\n", k, headers[k]))
	}
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	return []byte(b.String())
}
