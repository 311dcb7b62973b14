package models

type SendMessageRequest struct {
	ProspectID string `json:"prospect_id" example:"3f2c9a4e-8a8b-4c1f-9d0e-5b7a1c2d3e4f"`
	Message    string `json:"message" example:"Olá Carla, tudo bem?"`
}

type DeclineRequest struct {
	Reason string `json:"reason" example:"pediu por telefone"`
}

// EvolutionWebhook is the subset of an Evolution API messages.upsert event
// the agent reads.
type EvolutionWebhook struct {
	Event    string `json:"event"`
	Type     string `json:"type"`
	Instance string `json:"instance"`
	Data     struct {
		Key struct {
			RemoteJID string `json:"remoteJid"`
			FromMe    bool   `json:"fromMe"`
			ID        string `json:"id"`
		} `json:"key"`
		PushName string `json:"pushName"`
		Message  struct {
			Conversation        string `json:"conversation"`
			ExtendedTextMessage *struct {
				Text string `json:"text"`
			} `json:"extendedTextMessage"`
		} `json:"message"`
	} `json:"data"`
}

// Text returns the plain text of the message, or "" for media.
func (e *EvolutionWebhook) Text() string {
	if e.Data.Message.Conversation != "" {
		return e.Data.Message.Conversation
	}
	if ext := e.Data.Message.ExtendedTextMessage; ext != nil {
		return ext.Text
	}
	return ""
}

type ChatwootWebhook struct {
	Event  string `json:"event"`
	Status string `json:"status"`
	Meta   struct {
		Sender struct {
			PhoneNumber string `json:"phone_number"`
			Name        string `json:"name"`
		} `json:"sender"`
	} `json:"meta"`
}
