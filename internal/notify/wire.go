package notify

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Delimiter separates the recipient from the JSON payload on the wire.
const Delimiter = '|'

// Message is a parsed wire message.
type Message struct {
	Recipient string
	Payload   json.RawMessage
}

// ParseMessage splits raw at the first delimiter. The payload must be valid
// JSON; it is returned undecoded.
func ParseMessage(raw []byte) (Message, error) {
	i := bytes.IndexByte(raw, Delimiter)
	switch {
	case i < 0:
		return Message{}, ErrMissingDelimiter
	case i == 0:
		return Message{}, ErrEmptyRecipient
	}
	payload := raw[i+1:]
	if !json.Valid(payload) {
		return Message{}, ErrInvalidPayload
	}
	return Message{
		Recipient: string(raw[:i]),
		Payload:   json.RawMessage(append([]byte(nil), payload...)),
	}, nil
}

// EncodeMessage is the inverse of ParseMessage.
func EncodeMessage(recipient string, payload []byte) []byte {
	out := make([]byte, 0, len(recipient)+1+len(payload))
	out = append(out, recipient...)
	out = append(out, Delimiter)
	return append(out, payload...)
}

// ValidRecipient reports whether id can be used as a single subject token.
func ValidRecipient(id string) bool {
	if id == "" {
		return false
	}
	return !strings.ContainsAny(id, ".*> \t\r\n|")
}
