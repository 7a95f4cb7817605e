package domain

// Role identifies the author of a chat message or conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// ChatMessage is the provider-agnostic chat message shape used by the coordinator
// and LLM integrations. Content is a list of parts so a turn can carry an image.
type ChatMessage struct {
	Role    Role          `json:"role"`
	Content []ContentPart `json:"content"`
}

const (
	PartText  = "text"
	PartImage = "image_url"
)

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

// TextMessage builds a single-part text message.
func TextMessage(role Role, text string) ChatMessage {
	return ChatMessage{
		Role:    role,
		Content: []ContentPart{{Type: PartText, Text: text}},
	}
}

// ImageMessage builds a message with a text part followed by the image as a data URL.
func ImageMessage(role Role, text string, img Image) ChatMessage {
	return ChatMessage{
		Role: role,
		Content: []ContentPart{
			{Type: PartText, Text: text},
			{Type: PartImage, ImageURL: &ImageURL{URL: img.DataURL()}},
		},
	}
}

// Text concatenates the text parts of the message.
func (m ChatMessage) Text() string {
	var out string
	for _, p := range m.Content {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}

// HasImage reports whether any part of the message is an image.
func (m ChatMessage) HasImage() bool {
	for _, p := range m.Content {
		if p.Type == PartImage {
			return true
		}
	}
	return false
}
