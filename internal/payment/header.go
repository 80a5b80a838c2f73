// Package payment implements the payment proof header codec and verifier.
//
// Agents transmit payment proofs in the X-Payment request header, either as
// base64-encoded JSON (preferred) or raw JSON. Two schemes are supported:
// the current "exact" scheme, and a legacy amount+proof shape kept for
// pre-upgrade agents.
package payment

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

var (
	// ErrInvalidHeaderFormat means the header is neither base64 JSON nor raw JSON.
	ErrInvalidHeaderFormat = errors.New("invalid payment header format")
	// ErrUnknownScheme means the JSON parsed but matched no supported scheme.
	ErrUnknownScheme = errors.New("unknown payment header scheme")
)

// Kind discriminates decoded header variants.
type Kind string

const (
	KindExact  Kind = "exact"
	KindLegacy Kind = "legacy"
)

// ExactPayment is the current scheme: explicit sender, recipient, amount,
// token, and an optional on-chain reference and embedded proof.
type ExactPayment struct {
	Scheme string          `json:"scheme"`
	From   string          `json:"from"`
	PayTo  string          `json:"payTo"`
	Amount string          `json:"amount"`
	Token  string          `json:"token,omitempty"`
	TxRef  string          `json:"txRef,omitempty"`
	Proof  json.RawMessage `json:"proof,omitempty"`
}

// LegacyPayment is the pre-upgrade shape: a declared amount plus an embedded
// proof object, with no explicit sender or recipient.
type LegacyPayment struct {
	Amount json.Number     `json:"amount"`
	Proof  json.RawMessage `json:"proof"`
}

// Decoded is the tagged result of decoding a payment header.
// Exactly one of Exact/Legacy is non-nil, matching Kind.
type Decoded struct {
	Kind   Kind
	Exact  *ExactPayment
	Legacy *LegacyPayment
	// Raw is the header exactly as received, preserved for audit storage.
	Raw string
}

// HasProof reports whether an embedded proof payload is present.
func (d *Decoded) HasProof() bool {
	switch d.Kind {
	case KindExact:
		return len(d.Exact.Proof) > 0 && string(d.Exact.Proof) != "null"
	case KindLegacy:
		return len(d.Legacy.Proof) > 0 && string(d.Legacy.Proof) != "null"
	}
	return false
}

// Decode parses a raw payment header into one of the supported schemes.
//
// Decoding policy: base64-then-JSON first, then raw JSON; anything else is
// ErrInvalidHeaderFormat. A scheme discriminator selects the exact scheme;
// a proof object without a discriminator selects the legacy scheme.
func Decode(raw string) (*Decoded, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, ErrInvalidHeaderFormat
	}

	jsonBytes, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil || !looksLikeJSON(jsonBytes) {
		if !looksLikeJSON([]byte(trimmed)) {
			return nil, ErrInvalidHeaderFormat
		}
		jsonBytes = []byte(trimmed)
	}

	// Probe for the discriminator before committing to a strict schema.
	var probe struct {
		Scheme string          `json:"scheme"`
		Proof  json.RawMessage `json:"proof"`
	}
	if err := json.Unmarshal(jsonBytes, &probe); err != nil {
		return nil, ErrInvalidHeaderFormat
	}

	switch {
	case probe.Scheme != "":
		var exact ExactPayment
		if err := json.Unmarshal(jsonBytes, &exact); err != nil {
			return nil, ErrInvalidHeaderFormat
		}
		return &Decoded{Kind: KindExact, Exact: &exact, Raw: raw}, nil

	case len(probe.Proof) > 0 && string(probe.Proof) != "null":
		var legacy LegacyPayment
		if err := json.Unmarshal(jsonBytes, &legacy); err != nil {
			return nil, ErrInvalidHeaderFormat
		}
		return &Decoded{Kind: KindLegacy, Legacy: &legacy, Raw: raw}, nil

	default:
		return nil, ErrUnknownScheme
	}
}

func looksLikeJSON(b []byte) bool {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}
