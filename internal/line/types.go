package line

import "encoding/json"

// Message is any outbound message object. The concrete types below
// cover what linebot composes itself; RawMessage passes caller-supplied
// JSON through untouched.
type Message interface {
	MessageType() string
}

// TextMessage is a plain text message.
type TextMessage struct {
	Text string `json:"text"`
}

func (TextMessage) MessageType() string { return "text" }

func (m TextMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{"text", m.Text})
}

// StickerMessage sends a sticker by package and sticker id.
type StickerMessage struct {
	PackageID string `json:"packageId"`
	StickerID string `json:"stickerId"`
}

func (StickerMessage) MessageType() string { return "sticker" }

func (m StickerMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      string `json:"type"`
		PackageID string `json:"packageId"`
		StickerID string `json:"stickerId"`
	}{"sticker", m.PackageID, m.StickerID})
}

// ImageMessage points LINE at a publicly reachable image.
type ImageMessage struct {
	OriginalContentURL string `json:"originalContentUrl"`
	PreviewImageURL    string `json:"previewImageUrl"`
}

func (ImageMessage) MessageType() string { return "image" }

func (m ImageMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type               string `json:"type"`
		OriginalContentURL string `json:"originalContentUrl"`
		PreviewImageURL    string `json:"previewImageUrl"`
	}{"image", m.OriginalContentURL, m.PreviewImageURL})
}

// FlexMessage carries a bubble or carousel container.
type FlexMessage struct {
	AltText  string `json:"altText"`
	Contents any    `json:"contents"`
}

func (FlexMessage) MessageType() string { return "flex" }

func (m FlexMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string `json:"type"`
		AltText  string `json:"altText"`
		Contents any    `json:"contents"`
	}{"flex", m.AltText, m.Contents})
}

// RawMessage is a message object supplied verbatim by a caller.
type RawMessage map[string]any

func (m RawMessage) MessageType() string {
	t, _ := m["type"].(string)
	return t
}

// SentMessages is the push/broadcast response body.
type SentMessages struct {
	SentMessages []SentMessage `json:"sentMessages,omitempty"`
}

// SentMessage identifies one delivered message.
type SentMessage struct {
	ID         string `json:"id"`
	QuoteToken string `json:"quoteToken,omitempty"`
}

// Profile is a user's public profile.
type Profile struct {
	UserID        string `json:"userId"`
	DisplayName   string `json:"displayName"`
	PictureURL    string `json:"pictureUrl,omitempty"`
	StatusMessage string `json:"statusMessage,omitempty"`
	Language      string `json:"language,omitempty"`
}

// Quota is the monthly message limit. Type is "none" for unlimited
// plans, in which case Value is absent.
type Quota struct {
	Type  string `json:"type"`
	Value *int64 `json:"value,omitempty"`
}

// QuotaConsumption is the number of messages sent this month.
type QuotaConsumption struct {
	TotalUsage *int64 `json:"totalUsage"`
}

// RichMenuList is the rich menu list response.
type RichMenuList struct {
	RichMenus []RichMenu `json:"richmenus"`
}

// RichMenu describes one rich menu. Areas are passed through as-is.
type RichMenu struct {
	RichMenuID  string            `json:"richMenuId"`
	Name        string            `json:"name"`
	ChatBarText string            `json:"chatBarText"`
	Selected    bool              `json:"selected"`
	Size        RichMenuSize      `json:"size"`
	Areas       []json.RawMessage `json:"areas,omitempty"`
}

// RichMenuSize is the menu image size in pixels.
type RichMenuSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}
