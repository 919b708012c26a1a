package http

// SendMessageRequest DTO for POST /v1/messages/{messageID}/send
type SendMessageRequest struct {
	Destination string `json:"destination" validate:"required,max=64"`
	// TemplateMessageID defaults to the path message when omitted.
	TemplateMessageID *int64 `json:"template_message_id,omitempty" validate:"omitempty,gte=0"`
}

// BatchTarget is one recipient of a batch send. MessageID -1 sends to the
// local account's devices without a message row.
type BatchTarget struct {
	MessageID   int64  `json:"message_id" validate:"gte=-1"`
	Destination string `json:"destination" validate:"required,max=64"`
}

// BatchSendRequest DTO for POST /v1/messages/send-batch
type BatchSendRequest struct {
	TemplateMessageID *int64        `json:"template_message_id" validate:"required,gte=0"`
	Targets           []BatchTarget `json:"targets" validate:"required,min=1,max=1000,dive"`
}

// EnqueueResponse DTO
type EnqueueResponse struct {
	Status            string `json:"status"`
	TemplateMessageID int64  `json:"template_message_id"`
	Jobs              int    `json:"jobs"`
}

// GenericErrorResponse is the body of every error reply.
type GenericErrorResponse struct {
	Error string `json:"error"`
}
