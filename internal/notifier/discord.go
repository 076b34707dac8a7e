package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"questbot/internal/gametime"
)

// DiscordSink mirrors cards to a Discord channel webhook.
type DiscordSink struct {
	webhookURL string
	username   string
	client     *http.Client
	clock      *gametime.Clock
}

// NewDiscordSink stamps embeds from clock; nil uses the default game zone.
func NewDiscordSink(webhookURL, username string, timeout time.Duration, clock *gametime.Clock) *DiscordSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if clock == nil {
		clock = gametime.New(nil)
	}
	return &DiscordSink{
		webhookURL: strings.TrimRight(strings.TrimSpace(webhookURL), "/"),
		username:   username,
		client:     &http.Client{Timeout: timeout},
		clock:      clock,
	}
}

// DiscordEmbed represents a Discord embed object
type DiscordEmbed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
}

type EmbedFooter struct {
	Text string `json:"text"`
}

// DiscordPayload represents the webhook payload
type DiscordPayload struct {
	Username string         `json:"username,omitempty"`
	Content  string         `json:"content,omitempty"`
	Embeds   []DiscordEmbed `json:"embeds,omitempty"`
}

func (d *DiscordSink) Name() string { return "dc" }

func (d *DiscordSink) Send(ctx context.Context, c Card) (Handle, error) {
	embed := DiscordEmbed{
		Description: strings.Join(c.Lines, "\n"),
		Color:       c.Color,
		Timestamp:   d.clock.Instant(d.clock.Now()).UTC().Format(time.RFC3339),
	}
	if c.Title != "" {
		embed.Title = strings.TrimSpace(c.Emoji + " " + c.Title)
	}
	if len(c.Actions) > 0 {
		labels := make([]string, 0, len(c.Actions))
		for _, a := range c.Actions {
			labels = append(labels, a.Label())
		}
		embed.Footer = &EmbedFooter{Text: strings.Join(labels, " | ") + " in Telegram"}
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := d.do(ctx, http.MethodPost, d.webhookURL+"?wait=true", DiscordPayload{Username: d.username, Embeds: []DiscordEmbed{embed}}, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("discord webhook: response without message id")
	}
	return Handle("dc:" + out.ID), nil
}

func (d *DiscordSink) Delete(ctx context.Context, h Handle) error {
	id, ok := strings.CutPrefix(string(h), "dc:")
	if !ok || id == "" {
		return fmt.Errorf("%w: %q", ErrUnknownHandle, h)
	}
	return d.do(ctx, http.MethodDelete, d.webhookURL+"/messages/"+url.PathEscape(id), nil, nil)
}

func (d *DiscordSink) do(ctx context.Context, method, target string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode webhook response: %w", err)
		}
	}
	return nil
}
