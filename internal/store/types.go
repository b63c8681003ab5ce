package store

// Media describes an attachment that has already been persisted to the media
// store (inbound) or referenced by URL (outbound).
type Media struct {
	URL      string `json:"url"`
	Type     string `json:"type"`
	FileName string `json:"fileName,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`
}

// Message is a single chat message. The ID is assigned by the messaging
// client, never generated locally; messages are immutable once appended.
type Message struct {
	ID        string `json:"id"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Body      string `json:"body"`
	Timestamp string `json:"timestamp"` // RFC 3339
	FromMe    bool   `json:"fromMe"`
	Sender    string `json:"sender,omitempty"` // group-sender display name
	Media     *Media `json:"media,omitempty"`
}

// PhoneKey returns the key of the conversation this message belongs to:
// the declared recipient for locally originated messages, the declared
// sender otherwise.
func (m *Message) PhoneKey() string {
	if m.FromMe {
		return m.To
	}
	return m.From
}

// Conversation is the message history and metadata for one counterparty.
type Conversation struct {
	PhoneKey    string    `json:"phoneNumber"`
	Name        string    `json:"name"`
	Messages    []Message `json:"messages"`
	LastMessage *Message  `json:"lastMessage,omitempty"`
	UnreadCount int       `json:"unreadCount"`
}

// Clone returns a deep copy safe to hand out to other goroutines.
func (c *Conversation) Clone() *Conversation {
	out := &Conversation{
		PhoneKey:    c.PhoneKey,
		Name:        c.Name,
		Messages:    make([]Message, len(c.Messages)),
		UnreadCount: c.UnreadCount,
	}
	copy(out.Messages, c.Messages)
	for i, m := range c.Messages {
		if m.Media != nil {
			media := *m.Media
			out.Messages[i].Media = &media
		}
	}
	if c.LastMessage != nil {
		last := *c.LastMessage
		if last.Media != nil {
			media := *last.Media
			last.Media = &media
		}
		out.LastMessage = &last
	}
	return out
}

// Snapshot is the full store state keyed by phone key.
type Snapshot map[string]*Conversation

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, c := range s {
		out[k] = c.Clone()
	}
	return out
}
