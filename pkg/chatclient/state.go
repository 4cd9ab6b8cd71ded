package chatclient

// MessageStatus tracks an optimistic message until the server confirms it.
type MessageStatus string

const (
	// StatusPending marks a message shown before the server acknowledged it.
	StatusPending MessageStatus = "pending"
	// StatusConfirmed marks a message known to be persisted.
	StatusConfirmed MessageStatus = "confirmed"
	// StatusFailed marks an assistant bubble whose turn failed.
	StatusFailed MessageStatus = "failed"
)

const titleMaxRunes = 40

// ViewMessage is a message as rendered by a client.
type ViewMessage struct {
	ID      uint
	Role    string
	Content string
	Status  MessageStatus
	Error   string
}

// ChatState is the whole UI state of a chat client. Every transition is a
// method returning a new value; the receiver is never modified.
type ChatState struct {
	Conversations        []Conversation
	ActiveConversationID *uint
	ActiveMessages       []ViewMessage
	Loading              bool
}

func (s ChatState) clone() ChatState {
	out := s
	out.Conversations = append([]Conversation(nil), s.Conversations...)
	out.ActiveMessages = append([]ViewMessage(nil), s.ActiveMessages...)
	if s.ActiveConversationID != nil {
		id := *s.ActiveConversationID
		out.ActiveConversationID = &id
	}
	return out
}

// BeginTurn appends the tentative user message and an empty assistant bubble.
func (s ChatState) BeginTurn(userMessage string) ChatState {
	out := s.clone()
	out.ActiveMessages = append(out.ActiveMessages,
		ViewMessage{Role: "user", Content: userMessage, Status: StatusPending},
		ViewMessage{Role: "assistant", Status: StatusPending},
	)
	out.Loading = true
	return out
}

// ApplyConversationID records the conversation the server assigned to the turn.
// The server sends it only after persisting the user message, so the pending
// user message is confirmed here. A newly created conversation is added to the
// top of the list with the title the server derives from the first message.
func (s ChatState) ApplyConversationID(id uint, created bool) ChatState {
	out := s.clone()
	out.ActiveConversationID = &id

	for i := len(out.ActiveMessages) - 1; i >= 0; i-- {
		if m := out.ActiveMessages[i]; m.Role == "user" && m.Status == StatusPending {
			out.ActiveMessages[i].Status = StatusConfirmed
			if created && !out.hasConversation(id) {
				conv := Conversation{ID: id, Title: conversationTitle(m.Content)}
				out.Conversations = append([]Conversation{conv}, out.Conversations...)
			}
			break
		}
	}
	return out
}

// ApplyChunk appends a fragment to the pending assistant bubble.
func (s ChatState) ApplyChunk(fragment string) ChatState {
	i := s.pendingAssistant()
	if i < 0 || fragment == "" {
		return s
	}
	out := s.clone()
	out.ActiveMessages[i].Content += fragment
	return out
}

// CompleteTurn confirms the assistant reply and clears the busy flag.
func (s ChatState) CompleteTurn() ChatState {
	out := s.clone()
	if i := out.pendingAssistant(); i >= 0 {
		out.ActiveMessages[i].Status = StatusConfirmed
	}
	out.Loading = false
	return out
}

// FailTurn marks the pending assistant bubble with an inline error and clears the busy flag.
func (s ChatState) FailTurn(err error) ChatState {
	out := s.clone()
	if i := out.pendingAssistant(); i >= 0 {
		out.ActiveMessages[i].Status = StatusFailed
		if err != nil {
			out.ActiveMessages[i].Error = err.Error()
		}
	}
	out.Loading = false
	return out
}

// ReplaceMessages reconciles the active conversation with the server's history.
// A failed assistant bubble at the end is never persisted by the server, so it
// is kept after the history to preserve its inline error.
func (s ChatState) ReplaceMessages(messages []Message) ChatState {
	out := s.clone()
	out.ActiveMessages = make([]ViewMessage, 0, len(messages)+1)
	for _, m := range messages {
		out.ActiveMessages = append(out.ActiveMessages, ViewMessage{
			ID: m.ID, Role: m.Role, Content: m.Content, Status: StatusConfirmed,
		})
	}
	if n := len(s.ActiveMessages); n > 0 {
		if last := s.ActiveMessages[n-1]; last.Role == "assistant" && last.Status == StatusFailed {
			out.ActiveMessages = append(out.ActiveMessages, last)
		}
	}
	return out
}

// SetConversations replaces the conversation list.
func (s ChatState) SetConversations(conversations []Conversation) ChatState {
	out := s.clone()
	out.Conversations = append([]Conversation(nil), conversations...)
	return out
}

// SelectConversation makes id active; its messages are loaded separately.
func (s ChatState) SelectConversation(id uint) ChatState {
	out := s.clone()
	out.ActiveConversationID = &id
	out.ActiveMessages = nil
	return out
}

// NewChat clears the active conversation so the next turn creates one.
func (s ChatState) NewChat() ChatState {
	out := s.clone()
	out.ActiveConversationID = nil
	out.ActiveMessages = nil
	return out
}

// RemoveConversation drops a deleted conversation and clears the view if it was active.
func (s ChatState) RemoveConversation(id uint) ChatState {
	out := s.clone()
	kept := out.Conversations[:0]
	for _, c := range out.Conversations {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	out.Conversations = kept
	if out.ActiveConversationID != nil && *out.ActiveConversationID == id {
		out.ActiveConversationID = nil
		out.ActiveMessages = nil
	}
	return out
}

// RenameConversation updates a title in the list.
func (s ChatState) RenameConversation(id uint, title string) ChatState {
	out := s.clone()
	for i := range out.Conversations {
		if out.Conversations[i].ID == id {
			out.Conversations[i].Title = title
		}
	}
	return out
}

func (s ChatState) pendingAssistant() int {
	for i := len(s.ActiveMessages) - 1; i >= 0; i-- {
		if m := s.ActiveMessages[i]; m.Role == "assistant" && m.Status == StatusPending {
			return i
		}
	}
	return -1
}

func (s ChatState) hasConversation(id uint) bool {
	for _, c := range s.Conversations {
		if c.ID == id {
			return true
		}
	}
	return false
}

func conversationTitle(message string) string {
	runes := []rune(message)
	if len(runes) <= titleMaxRunes {
		return message
	}
	return string(runes[:titleMaxRunes]) + "..."
}
