// Package whatsapp – events.go processes incoming whatsmeow events and
// converts message events into the unified IncomingMessage type.
package whatsapp

import (
	"fmt"
	"strings"

	"google.golang.org/protobuf/proto"

	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/jholhewres/autorelay/pkg/autorelay/channels"
)

// handleEvent is the main whatsmeow event dispatcher.
func (w *WhatsApp) handleEvent(rawEvt interface{}) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		w.handleMessageEvt(evt)

	case *events.Connected:
		w.connected.Store(true)
		w.errorCount.Store(0)
		w.reconnectAttempts.Store(0)
		w.logger.Info("whatsapp: connected", "jid", w.getClientJID())

	case *events.Disconnected:
		wasConnected := w.connected.Load()
		w.connected.Store(false)
		w.logger.Warn("whatsapp: disconnected", "was_connected", wasConnected)
		if wasConnected && w.ctx.Err() == nil {
			go w.attemptReconnect()
		}

	case *events.StreamReplaced:
		w.connected.Store(false)
		w.logger.Error("whatsapp: stream replaced, another device connected")

	case *events.LoggedOut:
		w.connected.Store(false)
		w.logger.Error("whatsapp: logged out, session invalidated",
			"reason", evt.Reason.String())

	case *events.TemporaryBan:
		w.connected.Store(false)
		w.logger.Error("whatsapp: temporary ban",
			"code", evt.Code, "expire", evt.Expire)

	case *events.KeepAliveTimeout:
		w.errorCount.Add(1)
		// Half-open socket: looks connected but keepalives keep failing.
		if evt.ErrorCount >= 3 && w.connected.Load() {
			w.logger.Error("whatsapp: keep-alive failed repeatedly, forcing reconnect",
				"error_count", evt.ErrorCount)
			w.connected.Store(false)
			go w.attemptReconnect()
		}

	case *events.KeepAliveRestored:
		w.logger.Info("whatsapp: keep-alive restored")
		w.errorCount.Store(0)

	case *events.ConnectFailure:
		w.connected.Store(false)
		permanent := evt.PermanentDisconnectDescription()
		w.logger.Error("whatsapp: connect failure",
			"reason", evt.Reason.String(), "permanent", permanent)
		if permanent == "" && w.ctx.Err() == nil {
			go w.attemptReconnect()
		}

	case *events.PairSuccess:
		w.logger.Info("whatsapp: device paired",
			"jid", evt.ID, "platform", evt.Platform)

	case *events.QRScannedWithoutMultidevice:
		w.logger.Warn("whatsapp: QR scanned but multidevice not enabled")
	}
}

// handleMessageEvt converts an incoming message event into an
// IncomingMessage and forwards it. Non-text messages are dropped.
func (w *WhatsApp) handleMessageEvt(evt *events.Message) {
	if evt.Info.IsFromMe {
		return
	}

	// Skip status broadcasts.
	if evt.Info.Chat.Server == "broadcast" {
		return
	}

	isGroup := evt.Info.IsGroup
	if isGroup && w.cfg.IgnoreGroups {
		return
	}

	content := extractText(evt.Message)
	if content == "" {
		return
	}

	// WhatsApp may deliver a LID (Linked Identity) instead of the phone
	// JID. Resolve to the phone form so the allow-list can match.
	msg := &channels.IncomingMessage{
		ID:        string(evt.Info.ID),
		Channel:   "whatsapp",
		From:      w.resolveJID(evt.Info.Sender),
		FromName:  evt.Info.PushName,
		ChatID:    w.resolveJID(evt.Info.Chat),
		IsGroup:   isGroup,
		Content:   content,
		Timestamp: evt.Info.Timestamp,
	}

	w.emitMessage(msg)
}

// resolveJID maps a LID-form JID to its phone-number form when possible.
func (w *WhatsApp) resolveJID(jid types.JID) string {
	if jid.Server == "lid" && w.client != nil && w.client.Store != nil {
		if alt, err := w.client.Store.GetAltJID(w.ctx, jid); err == nil && !alt.IsEmpty() {
			return alt.String()
		}
	}
	return jid.String()
}

// extractText returns the text content of a message, or "" for non-text.
func extractText(waMsg *waE2E.Message) string {
	if waMsg == nil {
		return ""
	}
	if waMsg.Conversation != nil {
		return waMsg.GetConversation()
	}
	if ext := waMsg.ExtendedTextMessage; ext != nil {
		return ext.GetText()
	}
	return ""
}

// buildTextMessage builds an outgoing text message, quoting the replied-to
// message when a stanza ID is given.
func buildTextMessage(content, replyTo string) *waE2E.Message {
	if replyTo == "" {
		return &waE2E.Message{Conversation: proto.String(content)}
	}

	return &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text: proto.String(content),
			ContextInfo: &waE2E.ContextInfo{
				StanzaID: proto.String(replyTo),
			},
		},
	}
}

// parseJID converts a string to types.JID. Accepts "5511999999999",
// "5511999999999@s.whatsapp.net", or group IDs like "1234-5678@g.us".
func parseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, fmt.Errorf("empty JID")
	}

	if strings.Contains(s, "@") {
		return types.ParseJID(s)
	}

	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)

	if len(digits) < 10 {
		return types.JID{}, fmt.Errorf("phone number too short: %s", s)
	}

	return types.NewJID(digits, types.DefaultUserServer), nil
}
