package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"

	"outreach-agent/internal/models"
	"outreach-agent/internal/utils"
)

// InboundHandler receives text written to the paired number.
type InboundHandler func(ctx context.Context, phone, text string)

type WhatsAppOptions struct {
	// SessionDSN is the sqlite store of the paired device.
	SessionDSN  string
	DeviceName  string
	ChunkSize   int
	ChunkPause  time.Duration
	TypingDelay time.Duration
}

// WhatsAppService is a models.MessagingGateway backed by a whatsmeow device
// paired through a QR code.
type WhatsAppService struct {
	opts        WhatsAppOptions
	client      *whatsmeow.Client
	connected   bool
	connMutex   sync.RWMutex
	qrCodeImage []byte
	qrCodeMutex sync.RWMutex
	qrCodeReady bool
	onInbound   InboundHandler
	inboundTO   time.Duration
}

var _ models.MessagingGateway = (*WhatsAppService)(nil)

func NewWhatsAppService(opts WhatsAppOptions) *WhatsAppService {
	if opts.DeviceName == "" {
		opts.DeviceName = "Outreach Agent"
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = utils.DefaultChunkSize
	}
	if opts.ChunkPause < 0 {
		opts.ChunkPause = 0
	}
	return &WhatsAppService{opts: opts, inboundTO: 30 * time.Second}
}

func (s *WhatsAppService) SetInboundHandler(h InboundHandler) {
	s.onInbound = h
}

// Connect opens the device store and connects. An unpaired device starts the
// QR flow; the latest code is served by GetQRCodeImage.
func (s *WhatsAppService) Connect(ctx context.Context) error {
	if s.opts.SessionDSN == "" {
		return fmt.Errorf("whatsapp session: %w", models.ErrNotConfigured)
	}
	store.DeviceProps.Os = proto.String(s.opts.DeviceName)
	store.DeviceProps.PlatformType = waProto.DeviceProps_DESKTOP.Enum()

	container, err := sqlstore.New("sqlite", s.opts.SessionDSN, waLog.Zerolog(utils.Logger().With().Str("module", "whatsmeow-store").Logger()))
	if err != nil {
		return fmt.Errorf("erro ao criar device store: %w", err)
	}
	device, err := container.GetFirstDevice()
	if err != nil {
		return fmt.Errorf("erro ao carregar dispositivo: %w", err)
	}

	client := whatsmeow.NewClient(device, waLog.Zerolog(utils.Logger().With().Str("module", "whatsmeow").Logger()))
	client.AddEventHandler(s.eventHandler)
	s.client = client

	if client.Store.ID == nil {
		utils.LogInfo("Dispositivo não pareado, gerando QR code")
		qrChan, err := client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("erro ao obter canal de QR code: %w", err)
		}
		go func() {
			for evt := range qrChan {
				switch evt.Event {
				case "code":
					s.saveQRCode(evt.Code)
				case "success":
					utils.LogInfo("Pareamento concluído")
					s.clearQRCode()
				default:
					utils.LogDebug("Evento de QR code: %s", evt.Event)
				}
			}
		}()
	}

	if err := client.Connect(); err != nil {
		return fmt.Errorf("erro ao conectar: %w", err)
	}
	return nil
}

func (s *WhatsAppService) Disconnect() {
	if s.client != nil {
		s.client.Disconnect()
	}
	s.setConnected(false)
}

func (s *WhatsAppService) saveQRCode(code string) {
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		utils.LogError("Erro ao gerar QR code em PNG: %v", err)
		return
	}
	s.qrCodeMutex.Lock()
	defer s.qrCodeMutex.Unlock()
	s.qrCodeImage = png
	s.qrCodeReady = true
	utils.LogInfo("QR code disponível em /api/v1/qrcode")
}

func (s *WhatsAppService) clearQRCode() {
	s.qrCodeMutex.Lock()
	defer s.qrCodeMutex.Unlock()
	s.qrCodeImage = nil
	s.qrCodeReady = false
}

// GetQRCodeImage returns the current pairing code as PNG.
func (s *WhatsAppService) GetQRCodeImage() ([]byte, bool) {
	s.qrCodeMutex.RLock()
	defer s.qrCodeMutex.RUnlock()
	return s.qrCodeImage, s.qrCodeReady
}

func (s *WhatsAppService) IsConnected() bool {
	s.connMutex.RLock()
	defer s.connMutex.RUnlock()
	return s.client != nil && s.connected && s.client.IsLoggedIn()
}

func (s *WhatsAppService) setConnected(connected bool) {
	s.connMutex.Lock()
	defer s.connMutex.Unlock()
	s.connected = connected
}

func (s *WhatsAppService) eventHandler(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		s.handleMessage(v)
	case *events.Connected:
		utils.LogInfo("WhatsApp conectado")
		s.setConnected(true)
	case *events.Disconnected:
		utils.LogWarning("WhatsApp desconectado")
		s.setConnected(false)
	case *events.LoggedOut:
		utils.LogWarning("WhatsApp deslogado, novo pareamento necessário")
		s.setConnected(false)
	}
}

func (s *WhatsAppService) handleMessage(msg *events.Message) {
	if msg.Info.IsFromMe || msg.Info.IsGroup || msg.Info.Chat.Server == types.BroadcastServer {
		return
	}
	text := messageText(msg.Message)
	if text == "" {
		utils.LogDebug("Mensagem %s sem texto ignorada", msg.Info.ID)
		return
	}
	phone := utils.NormalizePhone(msg.Info.Sender.User)
	if s.onInbound == nil {
		utils.LogWarning("Mensagem de %s recebida sem handler configurado", phone)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.inboundTO)
	defer cancel()
	s.onInbound(ctx, phone, text)
}

func messageText(m *waProto.Message) string {
	if m == nil {
		return ""
	}
	if text := m.GetConversation(); text != "" {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(m.GetExtendedTextMessage().GetText())
}

func (s *WhatsAppService) ready() error {
	if s.client == nil {
		return fmt.Errorf("cliente do whatsapp não inicializado")
	}
	if !s.client.IsConnected() {
		return fmt.Errorf("whatsapp não está conectado")
	}
	return nil
}

func (s *WhatsAppService) SendText(ctx context.Context, phone, text string) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	jid, err := utils.ParseJID(phone)
	if err != nil {
		return "", err
	}

	s.typing(ctx, jid)
	resp, err := s.client.SendMessage(ctx, jid, &waProto.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return "", fmt.Errorf("erro ao enviar mensagem para %s: %w", jid.User, err)
	}
	return resp.ID, nil
}

// typing shows "composing" for TypingDelay. Presence failures are not fatal.
func (s *WhatsAppService) typing(ctx context.Context, jid types.JID) {
	if s.opts.TypingDelay <= 0 {
		return
	}
	if err := s.client.SendChatPresence(jid, types.ChatPresenceComposing, types.ChatPresenceMediaText); err != nil {
		utils.LogDebug("Erro ao enviar status de digitação: %v", err)
		return
	}
	timer := time.NewTimer(s.opts.TypingDelay)
	select {
	case <-ctx.Done():
		timer.Stop()
	case <-timer.C:
	}
	if err := s.client.SendChatPresence(jid, types.ChatPresencePaused, types.ChatPresenceMediaText); err != nil {
		utils.LogDebug("Erro ao limpar status de digitação: %v", err)
	}
}

func (s *WhatsAppService) SendTextPaced(ctx context.Context, phone, text string) ([]models.SendResult, error) {
	return sendPaced(ctx, utils.SplitText(text, s.opts.ChunkSize), s.opts.ChunkPause, func(ctx context.Context, chunk string) (string, error) {
		return s.SendText(ctx, phone, chunk)
	})
}

func (s *WhatsAppService) NumberIsReachable(ctx context.Context, phone string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	resp, err := s.client.IsOnWhatsApp([]string{"+" + utils.NormalizePhone(phone)})
	if err != nil {
		return false, fmt.Errorf("erro ao verificar número %s: %w", phone, err)
	}
	return len(resp) > 0 && resp[0].IsIn, nil
}

// sendPaced sends chunks in order with pause between them and stops at the
// first failure.
func sendPaced(ctx context.Context, chunks []string, pause time.Duration, send func(context.Context, string) (string, error)) ([]models.SendResult, error) {
	results := make([]models.SendResult, 0, len(chunks))
	for i, chunk := range chunks {
		if i > 0 && pause > 0 {
			timer := time.NewTimer(pause)
			select {
			case <-ctx.Done():
				timer.Stop()
				results = append(results, models.SendResult{Chunk: chunk, Error: ctx.Err().Error()})
				return results, ctx.Err()
			case <-timer.C:
			}
		}
		id, err := send(ctx, chunk)
		if err != nil {
			results = append(results, models.SendResult{Chunk: chunk, Error: err.Error()})
			return results, err
		}
		results = append(results, models.SendResult{Chunk: chunk, MessageID: id})
	}
	return results, nil
}
