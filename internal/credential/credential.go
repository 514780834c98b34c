// Package credential encodes the payload carried by a ticket's QR code.
//
// Wire format (version 1):
//
//	EZT1.<base64url(cbor payload)>.<base64url(blake3 keyed MAC)>
//
// The payload is CBOR with Core Deterministic Encoding, so the same
// payload always renders to the same string. The MAC covers the version
// prefix and the payload bytes.
package credential

import (
	"crypto/subtle"
	"encoding/base64"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"github.com/robertarktes/event-ticketing/internal/domain"
)

const (
	prefix  = "EZT1"
	version = 1
	macSize = 32

	// MaxLength bounds what Parse will look at. A rendered credential with
	// generous text fields stays well under this.
	MaxLength = 2048

	keyContext = "event-ticketing 2026 ticket credential v1"

	// Byte caps for the informational fields. With all of them full the
	// rendered credential stays under MaxLength.
	maxTitleBytes = 256
	maxTypeBytes  = 128
	maxNameBytes  = 256
	maxEmailBytes = 254
	maxByBytes    = 128
)

// Payload is the verbatim record embedded in a ticket. PurchaseID and
// AttendeeID locate the ticket; the rest is informational.
type Payload struct {
	Version       int    `cbor:"1,keyasint"`
	PurchaseID    int64  `cbor:"2,keyasint"`
	AttendeeID    int64  `cbor:"3,keyasint"`
	EventTitle    string `cbor:"4,keyasint,omitempty"`
	TicketType    string `cbor:"5,keyasint,omitempty"`
	AttendeeName  string `cbor:"6,keyasint,omitempty"`
	AttendeeEmail string `cbor:"7,keyasint,omitempty"`
	ApprovedBy    string `cbor:"8,keyasint,omitempty"`
	ApprovedAt    int64  `cbor:"9,keyasint,omitempty"`
	Used          bool   `cbor:"10,keyasint"`
}

func (p Payload) ApprovalTime() time.Time {
	return time.Unix(p.ApprovedAt, 0).UTC()
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("credential: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		MaxNestedLevels:  4,
		MaxArrayElements: 16,
		MaxMapPairs:      16,
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("credential: CBOR decoder initialization failed: " + err.Error())
	}
}

type Codec struct {
	key [32]byte
}

// NewCodec derives the MAC key from secret.
func NewCodec(secret []byte) (*Codec, error) {
	if len(secret) < 16 {
		return nil, errors.New("credential: secret must be at least 16 bytes")
	}
	c := &Codec{}
	blake3.DeriveKey(keyContext, secret, c.key[:])
	return c, nil
}

func (c *Codec) mac(payload []byte) []byte {
	h, err := blake3.NewKeyed(c.key[:])
	if err != nil {
		// key length is fixed at 32
		panic(err)
	}
	_, _ = h.Write([]byte(prefix))
	_, _ = h.Write(payload)
	return h.Sum(nil)[:macSize]
}

// Render encodes p. Version is forced to the current version.
func (c *Codec) Render(p Payload) (string, error) {
	if p.PurchaseID <= 0 || p.AttendeeID <= 0 {
		return "", errors.Wrap(domain.ErrInvalidInput, "credential needs purchase and attendee ids")
	}
	p.Version = version
	p.EventTitle = clip(p.EventTitle, maxTitleBytes)
	p.TicketType = clip(p.TicketType, maxTypeBytes)
	p.AttendeeName = clip(p.AttendeeName, maxNameBytes)
	p.AttendeeEmail = clip(p.AttendeeEmail, maxEmailBytes)
	p.ApprovedBy = clip(p.ApprovedBy, maxByBytes)
	raw, err := encMode.Marshal(p)
	if err != nil {
		return "", errors.Wrap(err, "credential: encoding payload")
	}
	enc := base64.RawURLEncoding
	out := prefix + "." + enc.EncodeToString(raw) + "." + enc.EncodeToString(c.mac(raw))
	if len(out) > MaxLength {
		return "", errors.Wrapf(domain.ErrInvalidInput, "credential is %d bytes, limit %d", len(out), MaxLength)
	}
	return out, nil
}

// clip cuts s to at most n bytes without splitting a rune.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Parse verifies and decodes an untrusted credential string. Every
// failure is reported as domain.ErrInvalidPayload.
func (c *Codec) Parse(s string) (Payload, error) {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > MaxLength {
		return Payload{}, errors.Wrap(domain.ErrInvalidPayload, "empty or oversized payload")
	}
	parts := strings.Split(s, ".")
	if len(parts) != 3 || parts[0] != prefix {
		return Payload{}, errors.Wrap(domain.ErrInvalidPayload, "unrecognized format")
	}
	enc := base64.RawURLEncoding
	raw, err := enc.DecodeString(parts[1])
	if err != nil {
		return Payload{}, errors.Wrap(domain.ErrInvalidPayload, "payload encoding")
	}
	sig, err := enc.DecodeString(parts[2])
	if err != nil || len(sig) != macSize {
		return Payload{}, errors.Wrap(domain.ErrInvalidPayload, "signature encoding")
	}
	if subtle.ConstantTimeCompare(sig, c.mac(raw)) != 1 {
		return Payload{}, errors.Wrap(domain.ErrInvalidPayload, "signature mismatch")
	}

	var p Payload
	if err := decMode.Unmarshal(raw, &p); err != nil {
		return Payload{}, errors.Wrap(domain.ErrInvalidPayload, "payload decoding")
	}
	if p.Version != version {
		return Payload{}, errors.Wrapf(domain.ErrInvalidPayload, "unsupported version %d", p.Version)
	}
	if p.PurchaseID <= 0 || p.AttendeeID <= 0 {
		return Payload{}, errors.Wrap(domain.ErrInvalidPayload, "missing purchase or attendee id")
	}
	return p, nil
}
