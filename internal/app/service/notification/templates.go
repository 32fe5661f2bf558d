package notification

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/shopspring/decimal"

	"github.com/fatflowers/membership/pkg/types"
)

// Data fills a notification template.
type Data struct {
	Name     string
	PlanName string
	Amount   decimal.Decimal
	Currency string
	EndDate  string
	DaysLeft int
	Reason   string
}

// Price renders the amount for humans, e.g. "100.00 USD".
func (d Data) Price() string {
	if d.Currency == "" {
		return d.Amount.StringFixed(2)
	}
	return d.Amount.StringFixed(2) + " " + strings.ToUpper(strings.TrimSpace(d.Currency))
}

type tmpl struct {
	subject *template.Template
	body    *template.Template
}

func mustTmpl(name, subject, body string) tmpl {
	return tmpl{
		subject: template.Must(template.New(name + ".subject").Parse(subject)),
		body:    template.Must(template.New(name + ".body").Parse(body)),
	}
}

var templates = map[types.NotificationType]tmpl{
	types.NotificationTypeWelcomeEmail: mustTmpl("welcome",
		"Welcome to your {{.PlanName}} membership",
		`Hi {{.Name}},

Thanks for joining. Your {{.PlanName}} membership is active until {{.EndDate}}.
{{if not .Amount.IsZero}}We received your payment of {{.Price}}.
{{end}}`),
	types.NotificationTypePaymentConfirmation: mustTmpl("payment_confirmation",
		"Payment received",
		`Hi {{.Name}},

We received your payment of {{.Price}}. Your membership is active until {{.EndDate}}.
`),
	types.NotificationTypePaymentFailed: mustTmpl("payment_failed",
		"We could not process your payment",
		`Hi {{.Name}},

Your payment{{if not .Amount.IsZero}} of {{.Price}}{{end}} could not be processed{{if .Reason}}: {{.Reason}}{{end}}.
Please update your payment details to keep your membership active.
`),
	types.NotificationTypeRenewalReminder: mustTmpl("renewal_reminder",
		"Your membership expires in {{.DaysLeft}} days",
		`Hi {{.Name}},

Your membership expires on {{.EndDate}}, {{.DaysLeft}} days from now. Renew before then to keep your benefits.
`),
	types.NotificationTypeMembershipExpired: mustTmpl("membership_expired",
		"Your membership has expired",
		`Hi {{.Name}},

Your membership expired on {{.EndDate}}. You can renew at any time to restore access.
`),
	types.NotificationTypeRegistrationConfirmation: mustTmpl("registration_confirmation",
		"Registration confirmed",
		`Hi {{.Name}},

Your registration is confirmed.
`),
}

// Render produces the subject and body for a notification type.
func Render(t types.NotificationType, d Data) (subject, body string, err error) {
	tp, ok := templates[t]
	if !ok {
		return "", "", fmt.Errorf("no template for notification type %q", t)
	}
	if d.Name == "" {
		d.Name = "there"
	}
	var sb, bb bytes.Buffer
	if err := tp.subject.Execute(&sb, d); err != nil {
		return "", "", fmt.Errorf("render %s subject: %w", t, err)
	}
	if err := tp.body.Execute(&bb, d); err != nil {
		return "", "", fmt.Errorf("render %s body: %w", t, err)
	}
	return sb.String(), bb.String(), nil
}
