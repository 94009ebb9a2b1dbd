package models

import "time"

// Payload builders for the webhook/push contract. Field sets are part of the
// external compatibility surface; timestamps are epoch seconds.

// PushPayload returns the real-time push representation of the conversation.
func (c Conversation) PushPayload() map[string]any {
	return map[string]any{
		"id":                    c.DisplayID,
		"conversation_id":       c.ID,
		"account_id":            c.AccountID,
		"inbox_id":              c.InboxID,
		"contact_id":            c.ContactID,
		"team_id":               c.TeamID,
		"status":                c.Status,
		"locked":                c.Locked,
		"assignee_id":           c.AssigneeID,
		"labels":                append([]string(nil), c.Labels...),
		"additional_attributes": c.AdditionalAttributes,
		"timestamp":             epoch(c.LastActivityAt),
		"agent_last_seen_at":    epoch(c.AgentLastSeenAt),
		"contact_last_seen_at":  epoch(c.ContactLastSeenAt),
		"created_at":            epoch(c.CreatedAt),
	}
}

// WebhookPayload returns the webhook representation of the conversation.
// Identical to the push payload today; kept separate so the surfaces can
// diverge without breaking consumers.
func (c Conversation) WebhookPayload() map[string]any {
	return c.PushPayload()
}

// PushPayload returns the real-time push representation of the message.
func (m Message) PushPayload() map[string]any {
	attachments := make([]map[string]any, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		attachments = append(attachments, map[string]any{
			"id":         a.ID,
			"file_type":  a.FileType,
			"file_name":  a.FileName,
			"data_url":   a.DataURL,
			"size_bytes": a.SizeBytes,
		})
	}
	payload := map[string]any{
		"id":              m.ID,
		"account_id":      m.AccountID,
		"inbox_id":        m.InboxID,
		"conversation_id": m.ConversationID,
		"message_type":    m.Type,
		"content":         m.Content,
		"content_type":    m.ContentType,
		"status":          m.Status,
		"private":         m.Private,
		"attachments":     attachments,
		"created_at":      epoch(m.CreatedAt),
	}
	if m.SenderType != "" {
		payload["sender"] = Sender{Type: m.SenderType, ID: m.SenderID, Name: m.SenderName}.PushPayload()
	}
	return payload
}

// WebhookPayload returns the webhook representation of the message.
func (m Message) WebhookPayload() map[string]any {
	return m.PushPayload()
}

// PushPayload returns the serialized sender variant. Dispatch is on the
// variant tag; unknown tags serialize with the tag only.
func (s Sender) PushPayload() map[string]any {
	payload := map[string]any{"type": s.Type}
	switch s.Type {
	case SenderTypeAgent, SenderTypeContact:
		payload["id"] = s.ID
		payload["name"] = s.Name
		if s.Email != "" {
			payload["email"] = s.Email
		}
	case SenderTypeBot:
		payload["name"] = s.Name
	}
	return payload
}

// WebhookPayload returns the webhook representation of the sender.
func (s Sender) WebhookPayload() map[string]any { return s.PushPayload() }

// PushPayload returns the inbox summary embedded in webhook envelopes.
func (i Inbox) PushPayload() map[string]any {
	return map[string]any{
		"id":           i.ID,
		"account_id":   i.AccountID,
		"name":         i.Name,
		"channel_type": i.ChannelType,
	}
}

func epoch(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
