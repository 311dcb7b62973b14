package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"outreach-agent/internal/models"
	"outreach-agent/internal/utils"
)

const webhookSecretHeader = "X-Webhook-Secret"

// @Summary Evolution API webhook
// @Description Receives inbound WhatsApp messages relayed by the Evolution API
// @Tags webhooks
// @Accept json
// @Produce json
// @Param X-Webhook-Secret header string false "Shared secret"
// @Success 200 {object} models.APIResponse
// @Failure 401 {object} models.APIResponse
// @Router /webhooks/evolution [post]
func (h *HTTPHandler) EvolutionWebhook(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		utils.LogWarning("Tentativa de acesso ao webhook com segredo inválido")
		models.RespondWithJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Unauthorized"))
		return
	}

	var payload models.EvolutionWebhook
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.LogDebug("Webhook Evolution sem corpo válido: %v", err)
		ignored(w, "no data")
		return
	}

	key := payload.Data.Key
	if key.FromMe {
		ignored(w, "from_me")
		return
	}
	jid, server, _ := strings.Cut(key.RemoteJID, "@")
	if jid == "" || (server != "" && server != "s.whatsapp.net" && server != "c.us") {
		ignored(w, "not a direct chat")
		return
	}
	text := payload.Text()
	if text == "" {
		utils.LogDebug("Webhook recebido sem texto (imagem, áudio, etc). Ignorando")
		ignored(w, "no text")
		return
	}

	utils.LogInfo("Webhook Evolution recebido de %s: %s", jid, preview(text, 50))
	prospect, err := h.operator.HandleInbound(r.Context(), jid, text)
	if err != nil {
		utils.LogError("Erro no webhook evolution: %v", err)
		models.RespondWithJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Internal Error"))
		return
	}
	if prospect == nil {
		ignored(w, "unknown number")
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("processed", map[string]interface{}{
		"prospect_id": prospect.ID,
		"status":      prospect.Status,
	}))
}

// @Summary Chatwoot webhook
// @Description Receives conversation events from Chatwoot. Status changes are logged only.
// @Tags webhooks
// @Accept json
// @Produce json
// @Success 200 {object} models.APIResponse
// @Router /webhooks/chatwoot [post]
func (h *HTTPHandler) ChatwootWebhook(w http.ResponseWriter, r *http.Request) {
	var payload models.ChatwootWebhook
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		models.RespondWithJSON(w, http.StatusBadRequest, models.NewErrorResponse("Formato de requisição inválido"))
		return
	}
	if payload.Event == "conversation_status_changed" {
		utils.LogInfo("Evento Chatwoot: status da conversa com %s mudou para %s",
			payload.Meta.Sender.PhoneNumber, payload.Status)
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("received", nil))
}

// authorized is true when no secret is configured.
func (h *HTTPHandler) authorized(r *http.Request) bool {
	if h.webhookSecret == "" {
		return true
	}
	got := r.Header.Get(webhookSecretHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.webhookSecret)) == 1
}

func ignored(w http.ResponseWriter, reason string) {
	models.RespondWithJSON(w, http.StatusOK, models.NewIgnoredResponse(reason))
}

func preview(text string, n int) string {
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n]) + "..."
}
