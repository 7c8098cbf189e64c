package domain

// Attachment is a downloaded, validated file reference. Path points into the
// owning workspace's attachments directory; Filename is the sender-supplied
// name and must not be trusted as a path.
type Attachment struct {
	Path        string `json:"path"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// InboundMessage is one user-originated request flowing adapter → bus → dispatcher.
type InboundMessage struct {
	Channel     string
	SenderID    string
	ChatID      string
	Content     string
	AgentName   string
	Attachments []Attachment
}

// OutboundMessage is one agent-originated reply flowing dispatcher → bus → adapter.
// Content is always non-empty; the dispatcher substitutes a placeholder when
// the agent produced no text.
type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
}
