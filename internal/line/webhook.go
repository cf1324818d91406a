package line

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// SignatureHeader carries the request body HMAC.
const SignatureHeader = "X-Line-Signature"

// ValidateSignature reports whether signature is the base64 HMAC-SHA256
// of body under the channel secret. The comparison is constant time.
func ValidateSignature(channelSecret string, body []byte, signature string) bool {
	if channelSecret == "" || signature == "" {
		return false
	}
	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign returns the signature LINE would send for body.
func Sign(channelSecret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// CallbackRequest is the webhook POST body.
type CallbackRequest struct {
	Destination string  `json:"destination"`
	Events      []Event `json:"events"`
}

// Event is one webhook event. Only the fields linebot reads are mapped.
type Event struct {
	Type       string        `json:"type"`
	ReplyToken string        `json:"replyToken,omitempty"`
	Timestamp  int64         `json:"timestamp"`
	Source     EventSource   `json:"source"`
	Message    *EventMessage `json:"message,omitempty"`
}

// EventSource identifies who triggered the event.
type EventSource struct {
	Type    string `json:"type"`
	UserID  string `json:"userId,omitempty"`
	GroupID string `json:"groupId,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
}

// EventMessage is the message carried by a message event.
type EventMessage struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// IsText reports whether e is a text message event.
func (e Event) IsText() bool {
	return e.Type == "message" && e.Message != nil && e.Message.Type == "text"
}
