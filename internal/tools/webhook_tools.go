package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/in2out/mattermost-s-mcp/internal/webhooks"
	"github.com/in2out/mattermost-s-mcp/pkg/observability"
)

// Tool names
const (
	ListWebhooksTool = "list_webhooks"
	SetDefaultTool   = "set_default"
	SendMessageTool  = "send_message"
)

// SetDefaultRequest is the argument of set_default
type SetDefaultRequest struct {
	Channel string `json:"channel"`
}

// Validate checks the request
func (r SetDefaultRequest) Validate() error {
	if strings.TrimSpace(r.Channel) == "" {
		return webhooks.NewValidationError("channel", "channel is required")
	}
	return nil
}

// SendMessageRequest is the argument of send_message. An empty Channel
// means the default channel.
type SendMessageRequest struct {
	Text    string `json:"text"`
	Channel string `json:"channel,omitempty"`
}

// Validate checks the request
func (r SendMessageRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return webhooks.NewValidationError("text", "text is required")
	}
	return nil
}

// ChannelInfo is one entry of a WebhookListing. The URL is never listed.
type ChannelInfo struct {
	Channel     string `json:"channel"`
	Description string `json:"description"`
}

// WebhookListing is the list_webhooks payload
type WebhookListing struct {
	Default  *string       `json:"default"`
	Channels []ChannelInfo `json:"channels"`
}

// WebhookTools provides the webhook tools. The config file is loaded
// again on every call.
type WebhookTools struct {
	store  *webhooks.Store
	sender *webhooks.Sender
	logger observability.Logger
}

// NewWebhookTools creates the webhook tool provider
func NewWebhookTools(store *webhooks.Store, sender *webhooks.Sender, logger observability.Logger) *WebhookTools {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &WebhookTools{
		store:  store,
		sender: sender,
		logger: logger,
	}
}

// GetDefinitions returns tool definitions
func (t *WebhookTools) GetDefinitions() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        ListWebhooksTool,
			Description: "List the registered Mattermost webhook channels and the current default",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
			Handler: t.handleList,
		},
		{
			Name:        SetDefaultTool,
			Description: "Make a registered channel the default webhook",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"channel": map[string]interface{}{
						"type":        "string",
						"description": "Channel to use as the default",
					},
				},
				"required": []string{"channel"},
			},
			Handler: t.handleSetDefault,
		},
		{
			Name:        SendMessageTool,
			Description: "Send a message to the default channel or to the given channel",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"text": map[string]interface{}{
						"type":        "string",
						"description": "Message text",
					},
					"channel": map[string]interface{}{
						"type":        "string",
						"description": "Channel to send to (optional)",
					},
				},
				"required": []string{"text"},
			},
			Handler: t.handleSendMessage,
		},
	}
}

// List returns the configured channels in file order
func (t *WebhookTools) List(ctx context.Context) (*WebhookListing, error) {
	cfg, err := t.store.Load()
	if err != nil {
		return nil, err
	}

	listing := &WebhookListing{Channels: make([]ChannelInfo, 0, len(cfg.Webhooks))}
	if cfg.DefaultChannel != "" {
		def := cfg.DefaultChannel
		listing.Default = &def
	}
	for _, w := range cfg.Webhooks {
		listing.Channels = append(listing.Channels, ChannelInfo{Channel: w.Channel, Description: w.Description})
	}
	return listing, nil
}

// SetDefault makes req.Channel the default channel. The file is not
// written when the channel is unknown.
func (t *WebhookTools) SetDefault(ctx context.Context, req SetDefaultRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	err := t.store.Update(func(cfg *webhooks.Config) error {
		if _, ok := cfg.Find(req.Channel); !ok {
			return webhooks.NewNotFoundError(req.Channel)
		}
		cfg.DefaultChannel = req.Channel
		return nil
	})
	if err != nil {
		return "", err
	}

	t.logger.Info("Default channel changed", map[string]interface{}{
		"channel": req.Channel,
	})
	return fmt.Sprintf("Default channel set to '%s'.", req.Channel), nil
}

// Resolve returns the webhook a send_message request would go to
func (t *WebhookTools) Resolve(ctx context.Context, req SendMessageRequest) (webhooks.Webhook, error) {
	if err := req.Validate(); err != nil {
		return webhooks.Webhook{}, err
	}

	cfg, err := t.store.Load()
	if err != nil {
		return webhooks.Webhook{}, err
	}
	return cfg.Resolve(req.Channel)
}

// SendMessage posts req.Text to the resolved webhook
func (t *WebhookTools) SendMessage(ctx context.Context, req SendMessageRequest) (string, error) {
	target, err := t.Resolve(ctx, req)
	if err != nil {
		return "", err
	}

	masked := webhooks.Mask(target.URL)
	if err := t.sender.Send(ctx, target, req.Text); err != nil {
		return "", err
	}

	t.logger.Info("Message sent", map[string]interface{}{
		"channel": target.Channel,
		"webhook": masked,
	})
	return fmt.Sprintf("Sent message to channel '%s' (webhook: %s).", target.Channel, masked), nil
}

func (t *WebhookTools) handleList(ctx context.Context, args json.RawMessage) (interface{}, error) {
	return t.List(ctx)
}

func (t *WebhookTools) handleSetDefault(ctx context.Context, args json.RawMessage) (interface{}, error) {
	req, err := decodeRequest[SetDefaultRequest](args)
	if err != nil {
		return nil, err
	}
	return t.SetDefault(ctx, req)
}

func (t *WebhookTools) handleSendMessage(ctx context.Context, args json.RawMessage) (interface{}, error) {
	req, err := decodeRequest[SendMessageRequest](args)
	if err != nil {
		return nil, err
	}
	return t.SendMessage(ctx, req)
}
