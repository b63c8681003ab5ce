package httpapi

// createChatRequest is the body of POST /chat.
type createChatRequest struct {
	PhoneNumber string `json:"phoneNumber" validate:"required"`
}

// statusResponse is the generic success/error envelope the web client
// expects from mutating endpoints.
type statusResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// createChatResponse wraps the created (or existing) conversation.
type createChatResponse struct {
	statusResponse
	Chat any `json:"chat,omitempty"`
}

// sendMessageResponse reports the server-assigned message ID.
type sendMessageResponse struct {
	statusResponse
	MessageID string `json:"messageId,omitempty"`
}

// uploadResponse points at the stored media file.
type uploadResponse struct {
	statusResponse
	URL string `json:"url,omitempty"`
}
