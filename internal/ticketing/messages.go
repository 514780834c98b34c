package ticketing

import (
	"html/template"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/robertarktes/event-ticketing/internal/domain"
)

var (
	approvedTmpl = template.Must(template.New("approved").Parse(`<p>Hello,</p>
<p>Your payment of {{.Purchase.TotalAmount.StringFixed 2}} for <strong>{{.Event.Title}}</strong> has been confirmed.</p>
<p>Order #{{.Purchase.ID}} &middot; {{.TicketType.Name}} &times; {{.Purchase.Quantity}}</p>
<ul>
{{- range .Tickets}}
<li>{{.Attendee.FullName}}{{if .Ticket.DocumentURL}} &middot; <a href="{{.Ticket.DocumentURL}}">download</a>{{end}}</li>
{{- end}}
</ul>
<p>Your tickets are attached. Show the QR code at the gate.</p>`))

	rejectedTmpl = template.Must(template.New("rejected").Parse(`<p>Hello,</p>
<p>We could not confirm your payment for order #{{.Purchase.ID}} ({{.Event.Title}}).</p>
{{- if .Reason}}
<p>Reason: {{.Reason}}</p>
{{- end}}
<p>You can upload a new payment proof from your order page.</p>`))
)

type approvedView struct {
	Purchase   domain.Purchase
	Event      domain.Event
	TicketType domain.TicketType
	Tickets    []IssuedTicket
}

type rejectedView struct {
	Purchase domain.Purchase
	Event    domain.Event
	Reason   string
}

func renderApproved(v approvedView) (string, error) {
	var b strings.Builder
	if err := approvedTmpl.Execute(&b, v); err != nil {
		return "", errors.Wrap(err, "render approval email")
	}
	return b.String(), nil
}

func renderRejected(v rejectedView) (string, error) {
	var b strings.Builder
	if err := rejectedTmpl.Execute(&b, v); err != nil {
		return "", errors.Wrap(err, "render rejection email")
	}
	return b.String(), nil
}
