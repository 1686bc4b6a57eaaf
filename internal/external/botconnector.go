package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"courier/internal/types"
)

const adaptiveCardContentType = "application/vnd.microsoft.card.adaptive"

// maxErrorBody bounds how much of a failed response is drained before the
// connection is reused.
const maxErrorBody = 4 << 10

var _ BotTransport = (*BotConnectorClient)(nil)

// BotConnectorClient speaks the Bot Connector REST protocol.
type BotConnectorClient struct {
	base        *BaseClient
	appID       string
	accessToken types.SecretString
}

func NewBotConnectorClient(base *BaseClient, appID string, accessToken types.SecretString) *BotConnectorClient {
	return &BotConnectorClient{base: base, appID: appID, accessToken: accessToken}
}

type channelAccount struct {
	ID string `json:"id"`
}

type tenantInfo struct {
	ID string `json:"id"`
}

type conversationParameters struct {
	IsGroup     bool             `json:"isGroup"`
	Bot         channelAccount   `json:"bot"`
	Members     []channelAccount `json:"members"`
	TenantID    string           `json:"tenantId,omitempty"`
	ChannelData *channelData     `json:"channelData,omitempty"`
}

type channelData struct {
	Tenant tenantInfo `json:"tenant"`
}

type conversationResourceResponse struct {
	ID string `json:"id"`
}

type attachment struct {
	ContentType string          `json:"contentType"`
	Content     json.RawMessage `json:"content"`
}

type activity struct {
	Type        string       `json:"type"`
	Summary     string       `json:"summary,omitempty"`
	Text        string       `json:"text,omitempty"`
	Attachments []attachment `json:"attachments,omitempty"`
}

// CreateConversation posts to {serviceUrl}/v3/conversations.
func (c *BotConnectorClient) CreateConversation(ctx context.Context, recipient types.RecipientDescriptor) (string, int, error) {
	params := conversationParameters{
		Bot:      channelAccount{ID: "28:" + c.appID},
		Members:  []channelAccount{{ID: recipient.UserID}},
		TenantID: recipient.TenantID,
	}
	if recipient.TenantID != "" {
		params.ChannelData = &channelData{Tenant: tenantInfo{ID: recipient.TenantID}}
	}

	resp, err := c.post(ctx, joinURL(recipient.ServiceURL, "v3", "conversations"), params)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		drain(resp.Body)
		return "", resp.StatusCode, nil
	}

	var out conversationResourceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.ID == "" {
		return "", resp.StatusCode, types.NewAppError(types.ErrCodeUpstreamBot, "conversation created without a usable id", err)
	}
	return out.ID, resp.StatusCode, nil
}

// SendMessage posts to {serviceUrl}/v3/conversations/{id}/activities.
func (c *BotConnectorClient) SendMessage(ctx context.Context, serviceURL, conversationID string, content types.NotificationContent) (int, error) {
	act := activity{
		Type:    "message",
		Summary: content.Title,
		Text:    content.Text,
	}
	if len(content.Card) > 0 {
		act.Attachments = []attachment{{ContentType: adaptiveCardContentType, Content: content.Card}}
	}

	resp, err := c.post(ctx, joinURL(serviceURL, "v3", "conversations", conversationID, "activities"), act)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	drain(resp.Body)
	return resp.StatusCode, nil
}

func (c *BotConnectorClient) post(ctx context.Context, endpoint string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal bot connector payload", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, fmt.Sprintf("invalid bot connector endpoint %q", endpoint), err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken.Unmask())
	return c.base.Do(req)
}

// joinURL appends escaped path segments to a service URL that may or may not
// end in a slash.
func joinURL(serviceURL string, segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return strings.TrimRight(serviceURL, "/") + "/" + strings.Join(escaped, "/")
}

func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, maxErrorBody))
}
