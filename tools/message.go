package tools

type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
	TypeBlob  MessageType = "blob"
	TypeJSON  MessageType = "json"
)

// Message is one result a tool hands back to the host. Blob is base64
// encoded on the wire.
type Message struct {
	Type     MessageType    `json:"type"`
	Text     string         `json:"text,omitempty"`
	URL      string         `json:"url,omitempty"`
	Blob     []byte         `json:"blob,omitempty"`
	MimeType string         `json:"mime_type,omitempty"`
	JSON     map[string]any `json:"json,omitempty"`
}

func TextMessage(text string) Message {
	return Message{Type: TypeText, Text: text}
}

// ImageMessage references an image by URL or data URI.
func ImageMessage(url string) Message {
	return Message{Type: TypeImage, URL: url}
}

func BlobMessage(data []byte, mimeType string) Message {
	return Message{Type: TypeBlob, Blob: data, MimeType: mimeType}
}

func JSONMessage(v map[string]any) Message {
	return Message{Type: TypeJSON, JSON: v}
}
