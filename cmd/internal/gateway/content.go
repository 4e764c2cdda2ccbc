package gateway

import (
	"encoding/json"
	"time"
)

// ContentKind tags an outbound payload.
type ContentKind string

const (
	KindText        ContentKind = "text"
	KindImage       ContentKind = "image"
	KindDocument    ContentKind = "document"
	KindAudio       ContentKind = "audio"
	KindVideo       ContentKind = "video"
	KindInteractive ContentKind = "interactive"
)

// Valid reports whether k is a known content kind.
func (k ContentKind) Valid() bool {
	switch k {
	case KindText, KindImage, KindDocument, KindAudio, KindVideo, KindInteractive:
		return true
	}
	return false
}

// IsMedia reports whether k carries binary media.
func (k ContentKind) IsMedia() bool {
	switch k {
	case KindImage, KindDocument, KindAudio, KindVideo:
		return true
	}
	return false
}

// Media carries outbound media content, either inline bytes or a URL the
// provider can fetch itself.
type Media struct {
	Data     []byte `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`
	Mimetype string `json:"mimetype,omitempty"`
	FileName string `json:"file_name,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// InteractiveMode selects the interactive prompt shape.
type InteractiveMode string

const (
	InteractiveButtons InteractiveMode = "buttons"
	InteractiveList    InteractiveMode = "list"
)

// Button is one tappable choice inside an interactive prompt.
type Button struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// ListSection groups rows inside a list-mode prompt.
type ListSection struct {
	Title string   `json:"title,omitempty"`
	Rows  []Button `json:"rows"`
}

// Interactive carries a buttons or list prompt.
type Interactive struct {
	Mode     InteractiveMode `json:"mode"`
	Title    string          `json:"title,omitempty"`
	Body     string          `json:"body"`
	Buttons  []Button        `json:"buttons,omitempty"`
	Sections []ListSection   `json:"sections,omitempty"`
}

// Content is the kind-tagged body of an outbound job. Exactly the fields
// implied by Kind are set.
type Content struct {
	Kind        ContentKind  `json:"kind"`
	Text        string       `json:"text,omitempty"`
	Media       *Media       `json:"media,omitempty"`
	Interactive *Interactive `json:"interactive,omitempty"`
}

// Validate checks the Kind/field pairing before a job is accepted.
func (c Content) Validate() error {
	switch {
	case !c.Kind.Valid():
		return &ConfigError{Reason: "unknown content kind: " + string(c.Kind)}
	case c.Kind == KindText && c.Text == "":
		return &ConfigError{Reason: "text content requires text"}
	case c.Kind.IsMedia() && c.Media == nil:
		return &ConfigError{Reason: "media content requires a media body"}
	case c.Kind.IsMedia() && len(c.Media.Data) == 0 && c.Media.URL == "":
		return &ConfigError{Reason: "media content requires data or a url"}
	case c.Kind == KindInteractive && c.Interactive == nil:
		return &ConfigError{Reason: "interactive content requires a prompt body"}
	case c.Kind == KindInteractive && c.Interactive.Mode != InteractiveButtons && c.Interactive.Mode != InteractiveList:
		return &ConfigError{Reason: "interactive mode must be buttons or list"}
	}
	return nil
}

// OutboundJob is a caller-initiated send awaiting delivery to the provider.
type OutboundJob struct {
	Target     string
	Content    Content
	EnqueuedAt time.Time
}

// DeliveryJob is an inbound transport event awaiting webhook forwarding.
type DeliveryJob struct {
	Raw        json.RawMessage
	RetryCount int
	EnqueuedAt time.Time
}
