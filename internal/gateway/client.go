// Package gateway is the request/response client for the remote chat
// service. Every call is stateless and carries a bounded timeout; errors
// map onto the taxonomy in errors.go.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/chatroom-im/chatroom/internal/auth"
	"github.com/chatroom-im/chatroom/internal/store"
)

const requestTimeout = 30 * time.Second

// Client talks JSON-over-HTTPS to the chat service.
type Client struct {
	http *resty.Client
}

// NewClient creates a gateway client for the given base URL. The bearer
// token is read from tokens on every request, so a re-login takes effect
// without rebuilding the client.
func NewClient(baseURL string, tokens auth.TokenSource) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(requestTimeout).
		SetHeader("Content-Type", "application/json")

	http.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		if tok := tokens.Token(); tok != "" {
			req.SetHeader("Authorization", "Bearer "+tok)
		}
		return nil
	})

	return &Client{http: http}
}

// FetchChats returns the authoritative chat list.
func (c *Client) FetchChats(ctx context.Context) ([]store.Chat, error) {
	var wire []wireChat
	resp, err := c.http.R().SetContext(ctx).SetResult(&wire).Get("/chats")
	if err := checkResponse(resp, err); err != nil {
		return nil, fmt.Errorf("fetch chats: %w", err)
	}
	chats := make([]store.Chat, 0, len(wire))
	for i := range wire {
		chats = append(chats, wire[i].toStore())
	}
	return chats, nil
}

// FetchMessages returns all messages for a chat.
func (c *Client) FetchMessages(ctx context.Context, chatID string) ([]store.Message, error) {
	var wire []wireMessage
	resp, err := c.http.R().SetContext(ctx).SetResult(&wire).
		Get("/chats/" + chatID + "/messages")
	if err := checkResponse(resp, err); err != nil {
		return nil, fmt.Errorf("fetch messages for %s: %w", chatID, err)
	}
	msgs := make([]store.Message, 0, len(wire))
	for i := range wire {
		msgs = append(msgs, wire[i].toStore())
	}
	return msgs, nil
}

// SendMessage posts a new message and returns the server-confirmed
// message, which carries the canonical identity.
func (c *Client) SendMessage(ctx context.Context, chatID, content, msgType, mediaURL string) (*store.Message, error) {
	var wire wireMessage
	resp, err := c.http.R().SetContext(ctx).
		SetBody(sendMessageRequest{ChatID: chatID, Content: content, Type: msgType, MediaURL: mediaURL}).
		SetResult(&wire).
		Post("/chats/" + chatID + "/messages")
	if err := checkResponse(resp, err); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	m := wire.toStore()
	return &m, nil
}

// CreateChat creates a chat with the given participants.
func (c *Client) CreateChat(ctx context.Context, participantIDs []string, chatType, name string) (*store.Chat, error) {
	var wire wireChat
	resp, err := c.http.R().SetContext(ctx).
		SetBody(createChatRequest{ParticipantIDs: participantIDs, Type: chatType, Name: name}).
		SetResult(&wire).
		Post("/chats")
	if err := checkResponse(resp, err); err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	ch := wire.toStore()
	return &ch, nil
}

// FetchUsers returns the user directory, filtered server-side when
// search is non-empty.
func (c *Client) FetchUsers(ctx context.Context, search string) ([]store.User, error) {
	var wire []wireUser
	req := c.http.R().SetContext(ctx).SetResult(&wire)
	if search != "" {
		req.SetQueryParam("search", search)
	}
	resp, err := req.Get("/users")
	if err := checkResponse(resp, err); err != nil {
		return nil, fmt.Errorf("fetch users: %w", err)
	}
	users := make([]store.User, 0, len(wire))
	for i := range wire {
		users = append(users, wire[i].toStore())
	}
	return users, nil
}

// FetchUser returns a single user's profile.
func (c *Client) FetchUser(ctx context.Context, id string) (*store.User, error) {
	var wire wireUser
	resp, err := c.http.R().SetContext(ctx).SetResult(&wire).Get("/users/" + id)
	if err := checkResponse(resp, err); err != nil {
		return nil, fmt.Errorf("fetch user %s: %w", id, err)
	}
	u := wire.toStore()
	return &u, nil
}

// MarkRead marks a message as read on the server.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	resp, err := c.http.R().SetContext(ctx).Put("/messages/" + messageID + "/read")
	if err := checkResponse(resp, err); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// checkResponse maps a resty result onto the error taxonomy: transport
// failures become NetworkError, 401 becomes ErrUnauthorized, any other
// non-2xx becomes ServerError.
func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return &NetworkError{Err: err}
	}
	if resp.IsError() {
		if resp.StatusCode() == 401 {
			return ErrUnauthorized
		}
		return &ServerError{StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}
	return nil
}
