package realtime

import (
	v1 "hrchat/shared/contracts/chat/v1"
)

func conversationPayload(c StoredConversation) v1.ConversationPayload {
	parts := make([]v1.UserPayload, 0, len(c.MemberIDs))
	for _, id := range c.MemberIDs {
		parts = append(parts, v1.UserPayload{ID: id})
	}
	return v1.ConversationPayload{
		ID:                 c.ID,
		IsGroup:            c.IsGroup,
		Name:               c.Name,
		Participants:       parts,
		LastMessagePreview: c.LastMessagePreview,
		LastMessageTS:      c.LastMessageAt,
		UnreadCount:        c.UnreadCount,
	}
}

func messagePayload(m StoredMessage) v1.MessagePayload {
	out := v1.MessagePayload{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		ClientMsgID:    m.ClientMsgID,
		Seq:            m.Seq,
		AuthorID:       m.AuthorID,
		Type:           m.Type,
		Content:        m.Content,
		RepliedToID:    m.RepliedToID,
		Edited:         m.Edited,
		ServerTS:       m.ServerTS,
	}
	if a := m.Attachment; a != nil {
		out.Attachment = &v1.AttachmentPayload{
			URL:      a.URL,
			Filename: a.Filename,
			Size:     a.Size,
			MimeType: a.MimeType,
		}
	}
	for _, r := range m.Reactions {
		out.Reactions = append(out.Reactions, v1.ReactionPayload{UserID: r.UserID, Type: r.Type})
	}
	return out
}

func attachmentInput(a *v1.AttachmentPayload) *StoredAttachment {
	if a == nil {
		return nil
	}
	return &StoredAttachment{
		URL:      a.URL,
		Filename: a.Filename,
		Size:     a.Size,
		MimeType: a.MimeType,
	}
}
