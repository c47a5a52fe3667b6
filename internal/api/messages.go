package api

import (
	"context"
	"fmt"
)

// Message is one chat message between two users.
type Message struct {
	ID          FlexString `json:"f_MsgId"`
	Content     string     `json:"f_Content"`
	SendUserID  FlexString `json:"f_SendUserId"`
	RecvUserID  FlexString `json:"f_RecvUserId"`
	CreateDate  string     `json:"f_CreateDate"`
	MessageType FlexInt    `json:"f_MessageType,omitempty"`
}

type sendMessageRequest struct {
	RecvUserID string `json:"f_RecvUserId"`
	Content    string `json:"f_Content"`
}

// LastMessages returns the most recent messages exchanged with userID,
// oldest first. The backend sends them newest first.
func (c *Client) LastMessages(ctx context.Context, userID string) ([]Message, error) {
	var msgs []Message
	if err := c.Get(ctx, "/message/msg/list/last", map[string]string{"toId": userID}, &msgs); err != nil {
		return nil, fmt.Errorf("fetching messages with %s: %w", userID, err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// SendMessage sends content to userID and returns the new message id.
func (c *Client) SendMessage(ctx context.Context, userID, content string) (string, error) {
	var id FlexString
	req := sendMessageRequest{RecvUserID: userID, Content: content}
	if err := c.Post(ctx, "/message/msg/send", req, &id); err != nil {
		return "", fmt.Errorf("sending message to %s: %w", userID, err)
	}
	return string(id), nil
}
