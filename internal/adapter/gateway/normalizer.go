package gateway

import (
	"encoding/json"

	"gracebot/internal/domain"
)

// feishuEvent is the im.message.receive_v1 event body.
type feishuEvent struct {
	Sender struct {
		SenderID struct {
			OpenID string `json:"open_id"`
		} `json:"sender_id"`
	} `json:"sender"`
	Message struct {
		MessageID string          `json:"message_id"`
		RootID    string          `json:"root_id"`
		ParentID  string          `json:"parent_id"`
		ChatID    string          `json:"chat_id"`
		ChatType  string          `json:"chat_type"`
		Content   string          `json:"content"` // JSON string, e.g. {"text":"hi"}
		Mentions  []feishuMention `json:"mentions"`
	} `json:"message"`
}

type feishuMention struct {
	ID struct {
		OpenID string `json:"open_id"`
	} `json:"id"`
	Key       string `json:"key"`
	Name      string `json:"name"`
	TenantKey string `json:"tenant_key"`
}

// normalizeEvent converts a raw Feishu message event into a
// domain.UnifiedMessage. Returns nil for event shapes this bot ignores.
func normalizeEvent(raw json.RawMessage, timestamp int64) *domain.UnifiedMessage {
	if len(raw) == 0 {
		return nil
	}

	var event feishuEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil
	}
	if event.Message.MessageID == "" {
		return nil
	}

	chatType := domain.ChatP2P
	if event.Message.ChatType == "group" {
		chatType = domain.ChatGroup
	}

	// The message body is itself a JSON string; non-text content yields
	// an empty text and the agent sees nothing useful, which is fine.
	var content struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal([]byte(event.Message.Content), &content)

	var mentions []domain.Mention
	for _, m := range event.Message.Mentions {
		id := m.ID.OpenID
		if id == "" {
			id = m.Key
		}
		mentions = append(mentions, domain.Mention{
			ID:   id,
			Name: m.Name,
			// Feishu includes tenant_key only for app (bot) mentions.
			IsBot: m.TenantKey != "",
		})
	}

	return &domain.UnifiedMessage{
		MessageID: event.Message.MessageID,
		UserID:    event.Sender.SenderID.OpenID,
		ChatID:    event.Message.ChatID,
		ChatType:  chatType,
		Text:      content.Text,
		RootID:    event.Message.RootID,
		ParentID:  event.Message.ParentID,
		Mentions:  mentions,
		Timestamp: timestamp,
	}
}
