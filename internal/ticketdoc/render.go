// Package ticketdoc renders the printable ticket: a one-page PDF with the
// event details and a QR code holding the scan credential.
package ticketdoc

import (
	"bytes"
	"fmt"
	"image/png"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-pdf/fpdf"
	"github.com/skip2/go-qrcode"
)

const ContentType = "application/pdf"

type Ticket struct {
	Credential   string
	PurchaseID   int64
	EventTitle   string
	Venue        string
	Location     string
	StartsAt     time.Time
	TicketType   string
	AttendeeName string
	ApprovedBy   string
	ApprovedAt   time.Time
}

type Renderer struct {
	qrSize int
}

func NewRenderer() *Renderer {
	return &Renderer{qrSize: 400}
}

// QR returns a PNG of content.
func (r *Renderer) QR(content string) ([]byte, error) {
	qr, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return nil, errors.Wrap(err, "ticketdoc: qr encode")
	}
	buf := new(bytes.Buffer)
	if err := png.Encode(buf, qr.Image(r.qrSize)); err != nil {
		return nil, errors.Wrap(err, "ticketdoc: png encode")
	}
	return buf.Bytes(), nil
}

func (r *Renderer) Render(t Ticket) ([]byte, error) {
	qr, err := r.QR(t.Credential)
	if err != nil {
		return nil, err
	}

	pdf := fpdf.New("P", "mm", "A5", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(t.EventTitle, true)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.MultiCell(0, 9, tr(t.EventTitle), "", "C", false)
	pdf.Ln(2)

	pdf.SetFont("Helvetica", "", 11)
	line := func(label, value string) {
		if value == "" {
			return
		}
		pdf.CellFormat(35, 7, tr(label), "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 7, tr(value), "", 1, "L", false, 0, "")
	}
	line("Attendee", t.AttendeeName)
	line("Ticket", t.TicketType)
	line("Venue", t.Venue)
	line("Location", t.Location)
	if !t.StartsAt.IsZero() {
		line("Starts", t.StartsAt.Format("Mon 02 Jan 2006 15:04 MST"))
	}
	line("Order", fmt.Sprintf("#%d", t.PurchaseID))
	line("Approved by", t.ApprovedBy)
	if !t.ApprovedAt.IsZero() {
		line("Approved at", t.ApprovedAt.Format(time.RFC1123))
	}

	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("qr", opts, bytes.NewReader(qr))
	pageW, _ := pdf.GetPageSize()
	const size = 70.0
	pdf.ImageOptions("qr", (pageW-size)/2, pdf.GetY()+6, size, size, false, opts, 0, "")

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, errors.Wrap(err, "ticketdoc: pdf output")
	}
	return out.Bytes(), nil
}
