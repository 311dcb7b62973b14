package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"outreach-agent/internal/models"
	"outreach-agent/internal/utils"
)

const maxMessagesPage = 100

// Operator is the part of the orchestrator the API drives.
type Operator interface {
	HandleInbound(ctx context.Context, phone, text string) (*models.Prospect, error)
	Decline(ctx context.Context, prospectID, reason string) (*models.Prospect, error)
	Reopen(ctx context.Context, prospectID string) (*models.Prospect, error)
	SendManual(ctx context.Context, prospectID, text string) (*models.Prospect, error)
}

type AgentControl interface {
	Pause(ctx context.Context) (*models.AgentState, error)
	Resume(ctx context.Context) (*models.AgentState, error)
}

type ThrottleStatus interface {
	Status(ctx context.Context, now time.Time) (*models.AgentState, int, error)
}

// QRCodeProvider is implemented by the native WhatsApp gateway.
type QRCodeProvider interface {
	GetQRCodeImage() ([]byte, bool)
	IsConnected() bool
}

type HTTPHandler struct {
	operator      Operator
	control       AgentControl
	throttle      ThrottleStatus
	prospects     models.ProspectRepository
	messages      models.MessageLogRepository
	qr            QRCodeProvider
	webhookSecret string
	now           func() time.Time
}

type HandlerDeps struct {
	Operator      Operator
	Control       AgentControl
	Throttle      ThrottleStatus
	Prospects     models.ProspectRepository
	Messages      models.MessageLogRepository
	QRCode        QRCodeProvider
	WebhookSecret string
	Now           func() time.Time
}

func NewHTTPHandler(deps HandlerDeps) *HTTPHandler {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &HTTPHandler{
		operator:      deps.Operator,
		control:       deps.Control,
		throttle:      deps.Throttle,
		prospects:     deps.Prospects,
		messages:      deps.Messages,
		qr:            deps.QRCode,
		webhookSecret: deps.WebhookSecret,
		now:           deps.Now,
	}
}

// RegisterRoutes mounts the operator API on a router already prefixed with /api/v1.
func (h *HTTPHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.Health).Methods("GET", "OPTIONS")
	router.HandleFunc("/state", h.GetState).Methods("GET", "OPTIONS")
	router.HandleFunc("/pause", h.Pause).Methods("POST", "OPTIONS")
	router.HandleFunc("/resume", h.Resume).Methods("POST", "OPTIONS")
	router.HandleFunc("/send-message", h.SendMessage).Methods("POST", "OPTIONS")

	router.HandleFunc("/prospects", h.ListProspects).Methods("GET", "OPTIONS")
	router.HandleFunc("/prospects/{id}", h.GetProspect).Methods("GET", "OPTIONS")
	router.HandleFunc("/prospects/{id}/messages", h.ListMessages).Methods("GET", "OPTIONS")
	router.HandleFunc("/prospects/{id}/reopen", h.Reopen).Methods("POST", "OPTIONS")
	router.HandleFunc("/prospects/{id}/decline", h.Decline).Methods("POST", "OPTIONS")

	router.HandleFunc("/qrcode", h.GetQRCode).Methods("GET", "OPTIONS")

	// Webhooks
	router.HandleFunc("/webhooks/evolution", h.EvolutionWebhook).Methods("POST")
	router.HandleFunc("/webhooks/chatwoot", h.ChatwootWebhook).Methods("POST")
}

// @Summary Health check
// @Tags status
// @Produce json
// @Success 200 {object} models.APIResponse
// @Router /health [get]
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("ok", nil))
}

// @Summary Agent state
// @Description Returns the agent state singleton and today's send limit
// @Tags agent
// @Produce json
// @Success 200 {object} models.APIResponse
// @Failure 500 {object} models.APIResponse
// @Router /state [get]
func (h *HTTPHandler) GetState(w http.ResponseWriter, r *http.Request) {
	state, limit, err := h.throttle.Status(r.Context(), h.now())
	if err != nil {
		utils.LogError("Erro ao obter estado do agente em /state: %v", err)
		models.RespondWithJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Não foi possível obter o estado do agente"))
		return
	}
	data := map[string]interface{}{
		"state":       state,
		"daily_limit": limit,
		"remaining":   max(limit-state.MessagesSentToday, 0),
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Estado do agente", data))
}

// @Summary Pause the agent
// @Tags agent
// @Produce json
// @Success 200 {object} models.APIResponse
// @Router /pause [post]
func (h *HTTPHandler) Pause(w http.ResponseWriter, r *http.Request) {
	state, err := h.control.Pause(r.Context())
	if err != nil {
		utils.LogError("Erro ao pausar agente: %v", err)
		models.RespondWithJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Não foi possível pausar o agente"))
		return
	}
	utils.LogInfo("Agente pausado pelo operador")
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Agente pausado", state))
}

// @Summary Resume the agent
// @Tags agent
// @Produce json
// @Success 200 {object} models.APIResponse
// @Router /resume [post]
func (h *HTTPHandler) Resume(w http.ResponseWriter, r *http.Request) {
	state, err := h.control.Resume(r.Context())
	if err != nil {
		utils.LogError("Erro ao retomar agente: %v", err)
		models.RespondWithJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Não foi possível retomar o agente"))
		return
	}
	utils.LogInfo("Agente retomado pelo operador")
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Agente retomado", state))
}

// @Summary Send a manual message
// @Description Sends operator-written text to a prospect. Counts against the daily limit.
// @Tags messages
// @Accept json
// @Produce json
// @Param request body models.SendMessageRequest true "Message request"
// @Success 200 {object} models.APIResponse
// @Failure 400 {object} models.APIResponse
// @Failure 404 {object} models.APIResponse
// @Failure 409 {object} models.APIResponse
// @Failure 502 {object} models.APIResponse
// @Router /send-message [post]
func (h *HTTPHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req models.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.LogError("Erro ao decodificar requisição em /send-message: %v", err)
		models.RespondWithJSON(w, http.StatusBadRequest, models.NewErrorResponse("Formato de requisição inválido"))
		return
	}
	if req.ProspectID == "" || strings.TrimSpace(req.Message) == "" {
		models.RespondWithJSON(w, http.StatusBadRequest, models.NewErrorResponse("prospect_id e message são obrigatórios"))
		return
	}

	prospect, err := h.operator.SendManual(r.Context(), req.ProspectID, req.Message)
	if err != nil {
		utils.LogError("Erro ao enviar mensagem manual para %s: %v", req.ProspectID, err)
		h.respondOperatorError(w, err, http.StatusBadGateway, "Falha ao enviar mensagem")
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Mensagem enviada com sucesso", prospect))
}

// @Summary List prospects
// @Tags prospects
// @Produce json
// @Param status query string false "Lifecycle status filter"
// @Param limit query int false "Page size" default(50)
// @Param offset query int false "Offset" default(0)
// @Success 200 {object} models.APIResponse
// @Failure 400 {object} models.APIResponse
// @Router /prospects [get]
func (h *HTTPHandler) ListProspects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := models.ListQuery{Limit: 50}

	if raw := q.Get("status"); raw != "" {
		status, err := models.ParseStatus(raw)
		if err != nil {
			models.RespondWithJSON(w, http.StatusBadRequest, models.NewErrorResponse(err.Error()))
			return
		}
		query.Status = status
	}
	var err error
	if query.Limit, err = intParam(q.Get("limit"), query.Limit); err != nil {
		models.RespondWithJSON(w, http.StatusBadRequest, models.NewErrorResponse("limit deve ser um número válido"))
		return
	}
	if query.Offset, err = intParam(q.Get("offset"), 0); err != nil {
		models.RespondWithJSON(w, http.StatusBadRequest, models.NewErrorResponse("offset deve ser um número válido"))
		return
	}

	prospects, err := h.prospects.List(r.Context(), query)
	if err != nil {
		utils.LogError("Erro ao listar prospects: %v", err)
		models.RespondWithJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Não foi possível listar os prospects"))
		return
	}
	if prospects == nil {
		prospects = []*models.Prospect{}
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Prospects", prospects))
}

// @Summary Get a prospect
// @Tags prospects
// @Produce json
// @Param id path string true "Prospect ID"
// @Success 200 {object} models.APIResponse
// @Failure 404 {object} models.APIResponse
// @Router /prospects/{id} [get]
func (h *HTTPHandler) GetProspect(w http.ResponseWriter, r *http.Request) {
	prospect, err := h.prospects.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondOperatorError(w, err, http.StatusInternalServerError, "Não foi possível obter o prospect")
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Prospect", prospect))
}

// @Summary Message history of a prospect
// @Description Newest first
// @Tags prospects
// @Produce json
// @Param id path string true "Prospect ID"
// @Param limit query int false "Max entries" default(100)
// @Success 200 {object} models.APIResponse
// @Failure 404 {object} models.APIResponse
// @Router /prospects/{id}/messages [get]
func (h *HTTPHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	limit, err := intParam(r.URL.Query().Get("limit"), maxMessagesPage)
	if err != nil || limit > maxMessagesPage {
		limit = maxMessagesPage
	}

	if _, err := h.prospects.GetByID(r.Context(), id); err != nil {
		h.respondOperatorError(w, err, http.StatusInternalServerError, "Não foi possível obter o prospect")
		return
	}
	logs, err := h.messages.ListByProspect(r.Context(), id, limit)
	if err != nil {
		utils.LogError("Erro ao listar mensagens de %s: %v", id, err)
		models.RespondWithJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Não foi possível listar as mensagens"))
		return
	}
	if logs == nil {
		logs = []*models.MessageLog{}
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Mensagens", logs))
}

// @Summary Reopen a prospect
// @Description Returns a declined or externally engaged prospect to the outreach queue
// @Tags prospects
// @Produce json
// @Param id path string true "Prospect ID"
// @Success 200 {object} models.APIResponse
// @Failure 404 {object} models.APIResponse
// @Failure 409 {object} models.APIResponse
// @Router /prospects/{id}/reopen [post]
func (h *HTTPHandler) Reopen(w http.ResponseWriter, r *http.Request) {
	prospect, err := h.operator.Reopen(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondOperatorError(w, err, http.StatusInternalServerError, "Não foi possível reabrir o prospect")
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Prospect reaberto", prospect))
}

// @Summary Decline a prospect
// @Tags prospects
// @Accept json
// @Produce json
// @Param id path string true "Prospect ID"
// @Param request body models.DeclineRequest false "Reason"
// @Success 200 {object} models.APIResponse
// @Failure 404 {object} models.APIResponse
// @Failure 409 {object} models.APIResponse
// @Router /prospects/{id}/decline [post]
func (h *HTTPHandler) Decline(w http.ResponseWriter, r *http.Request) {
	var req models.DeclineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		models.RespondWithJSON(w, http.StatusBadRequest, models.NewErrorResponse("Formato de requisição inválido"))
		return
	}
	if req.Reason == "" {
		req.Reason = "operator"
	}
	prospect, err := h.operator.Decline(r.Context(), mux.Vars(r)["id"], req.Reason)
	if err != nil {
		h.respondOperatorError(w, err, http.StatusInternalServerError, "Não foi possível recusar o prospect")
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Prospect marcado como recusado", prospect))
}

// @Summary Get QR Code
// @Description Pairing QR code of the native WhatsApp gateway as PNG
// @Tags authentication
// @Produce png
// @Success 200 {file} binary
// @Success 202 {object} models.APIResponse "QR code ainda não gerado"
// @Failure 404 {object} models.APIResponse "Gateway sem pareamento"
// @Router /qrcode [get]
func (h *HTTPHandler) GetQRCode(w http.ResponseWriter, r *http.Request) {
	if h.qr == nil {
		models.RespondWithJSON(w, http.StatusNotFound, models.NewErrorResponse("O gateway configurado não usa pareamento por QR Code"))
		return
	}
	if h.qr.IsConnected() {
		data := map[string]interface{}{
			"status":  "connected",
			"message": "O WhatsApp já está conectado e pronto para uso!",
		}
		models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("WhatsApp conectado com sucesso", data))
		return
	}
	png, ready := h.qr.GetQRCodeImage()
	if !ready {
		models.RespondWithJSON(w, http.StatusAccepted, models.NewWaitingResponse("O QR Code ainda não está disponível. Por favor, aguarde alguns segundos e tente novamente."))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// respondOperatorError maps lifecycle and lookup errors to status codes.
func (h *HTTPHandler) respondOperatorError(w http.ResponseWriter, err error, fallback int, message string) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		models.RespondWithJSON(w, http.StatusNotFound, models.NewErrorResponse("Prospect não encontrado"))
	case errors.Is(err, models.ErrIllegalTransition):
		models.RespondWithJSON(w, http.StatusConflict, models.NewTransitionErrorResponse(err))
	default:
		models.RespondWithJSON(w, fallback, models.NewErrorResponse(message))
	}
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid number")
	}
	return n, nil
}
