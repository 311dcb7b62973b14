package services

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"outreach-agent/internal/models"
)

func inboundEvent(sender string, fromMe bool, msg *waProto.Message) *events.Message {
	jid := types.NewJID(sender, types.DefaultUserServer)
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: jid, Sender: jid, IsFromMe: fromMe},
			ID:            "3EB0TEST",
		},
		Message: msg,
	}
}

func TestWhatsAppInboundDispatch(t *testing.T) {
	type inbound struct{ phone, text string }
	var got []inbound
	s := NewWhatsAppService(WhatsAppOptions{})
	s.SetInboundHandler(func(ctx context.Context, phone, text string) {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		got = append(got, inbound{phone, text})
	})

	s.eventHandler(inboundEvent("5545991110001", false, &waProto.Message{Conversation: proto.String(" Oi, tudo bem? ")}))
	s.eventHandler(inboundEvent("5545991110002", false, &waProto.Message{
		ExtendedTextMessage: &waProto.ExtendedTextMessage{Text: proto.String("pare")},
	}))
	s.eventHandler(inboundEvent("5545991110003", true, &waProto.Message{Conversation: proto.String("enviada por nós")}))
	s.eventHandler(inboundEvent("5545991110004", false, &waProto.Message{}))

	assert.Equal(t, []inbound{
		{"5545991110001", "Oi, tudo bem?"},
		{"5545991110002", "pare"},
	}, got)
}

func TestWhatsAppConnectionEvents(t *testing.T) {
	s := NewWhatsAppService(WhatsAppOptions{})
	s.eventHandler(&events.Connected{})
	assert.False(t, s.IsConnected(), "no client yet")
	s.eventHandler(&events.Disconnected{})

	_, err := s.SendText(context.Background(), "5545991110001", "oi")
	assert.Error(t, err)
	_, err = s.NumberIsReachable(context.Background(), "5545991110001")
	assert.Error(t, err)
	assert.ErrorIs(t, s.Connect(context.Background()), models.ErrNotConfigured)
}

func TestWhatsAppQRCodeImage(t *testing.T) {
	s := NewWhatsAppService(WhatsAppOptions{})
	_, ready := s.GetQRCodeImage()
	assert.False(t, ready)

	s.saveQRCode("2@abc,def,ghi")
	png, ready := s.GetQRCodeImage()
	require.True(t, ready)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))

	s.clearQRCode()
	_, ready = s.GetQRCodeImage()
	assert.False(t, ready)
}

func TestSendPacedStopsAtFirstFailure(t *testing.T) {
	var sent []string
	results, err := sendPaced(context.Background(), []string{"um", "dois", "três"}, time.Millisecond,
		func(ctx context.Context, chunk string) (string, error) {
			if chunk == "dois" {
				return "", errors.New("offline")
			}
			sent = append(sent, chunk)
			return "id-" + chunk, nil
		})
	require.Error(t, err)
	assert.Equal(t, []string{"um"}, sent)
	require.Len(t, results, 2)
	assert.Equal(t, "id-um", results[0].MessageID)
	assert.False(t, results[1].OK())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err = sendPaced(ctx, []string{"um", "dois"}, time.Hour, func(ctx context.Context, chunk string) (string, error) {
		return "ok", nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, results, 2)
}
