package gmail

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/emersion/go-message/charset"
	gmail "google.golang.org/api/gmail/v1"
)

const (
	// MaxBodyChars is the longest body kept, in characters.
	MaxBodyChars = 10000

	DefaultSubject = "No Subject"
	DefaultFrom    = "Unknown Sender"
)

// Message is a Gmail message flattened for storage.
type Message struct {
	ProviderMessageID string
	Subject           string
	From              string
	ReceivedAt        time.Time
	Body              string
}

// Normalize flattens a full-format Gmail message. It never fails: missing
// headers get defaults and an undecodable body becomes "".
func Normalize(msg *gmail.Message) Message {
	if msg == nil {
		return Message{Subject: DefaultSubject, From: DefaultFrom}
	}

	var headers []*gmail.MessagePartHeader
	if msg.Payload != nil {
		headers = msg.Payload.Headers
	}

	out := Message{
		ProviderMessageID: msg.Id,
		Subject:           headerValue(headers, "Subject"),
		From:              headerValue(headers, "From"),
		ReceivedAt:        receivedAt(headers, msg.InternalDate),
		Body:              truncate(extractBody(msg.Payload), MaxBodyChars),
	}
	if out.Subject == "" {
		out.Subject = DefaultSubject
	}
	if out.From == "" {
		out.From = DefaultFrom
	}

	return out
}

func headerValue(headers []*gmail.MessagePartHeader, name string) string {
	for _, h := range headers {
		if h != nil && strings.EqualFold(h.Name, name) {
			return strings.TrimSpace(h.Value)
		}
	}
	return ""
}

// receivedAt prefers the Date header and falls back to Gmail's internal
// timestamp in milliseconds.
func receivedAt(headers []*gmail.MessagePartHeader, internalDate int64) time.Time {
	if raw := headerValue(headers, "Date"); raw != "" {
		if t, err := mail.ParseDate(raw); err == nil {
			return t.UTC()
		}
	}
	return time.UnixMilli(internalDate).UTC()
}

// extractBody returns the top-level body if it has data, otherwise the first
// text/plain or text/html part found depth-first.
func extractBody(payload *gmail.MessagePart) string {
	if payload == nil {
		return ""
	}
	if payload.Body != nil && payload.Body.Data != "" {
		return decodePart(payload)
	}

	var found *gmail.MessagePart
	walkParts(payload, func(part *gmail.MessagePart) bool {
		if part.Body == nil || part.Body.Data == "" {
			return true
		}
		switch mediaType(part) {
		case "text/plain", "text/html":
			found = part
			return false
		}
		return true
	})

	if found == nil {
		return ""
	}
	return decodePart(found)
}

// walkParts visits part and its descendants depth-first until fn returns false.
func walkParts(part *gmail.MessagePart, fn func(*gmail.MessagePart) bool) bool {
	if part == nil {
		return true
	}
	if !fn(part) {
		return false
	}
	for _, sub := range part.Parts {
		if !walkParts(sub, fn) {
			return false
		}
	}
	return true
}

func mediaType(part *gmail.MessagePart) string {
	if mt, _, err := mime.ParseMediaType(part.MimeType); err == nil {
		return mt
	}
	return strings.ToLower(strings.TrimSpace(part.MimeType))
}

func partCharset(part *gmail.MessagePart) string {
	ct := headerValue(part.Headers, "Content-Type")
	if ct == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(ct)
	if err != nil {
		return ""
	}
	return strings.ToLower(params["charset"])
}

func decodePart(part *gmail.MessagePart) string {
	data, ok := decodeBase64(part.Body.Data)
	if !ok {
		return ""
	}
	return toUTF8(data, partCharset(part))
}

// decodeBase64 accepts Gmail's base64url with or without padding, and
// standard base64 as a fallback.
func decodeBase64(s string) ([]byte, bool) {
	trimmed := strings.TrimRight(s, "=")
	if data, err := base64.RawURLEncoding.DecodeString(trimmed); err == nil {
		return data, true
	}
	if data, err := base64.RawStdEncoding.DecodeString(trimmed); err == nil {
		return data, true
	}
	return nil, false
}

func toUTF8(data []byte, cs string) string {
	switch cs {
	case "", "utf-8", "utf8", "us-ascii":
	default:
		if r, err := charset.Reader(cs, bytes.NewReader(data)); err == nil {
			if converted, err := io.ReadAll(r); err == nil {
				data = converted
			}
		}
	}
	return strings.ToValidUTF8(string(data), "\uFFFD")
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
