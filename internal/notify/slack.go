package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Slack section blocks reject mrkdwn longer than this.
const slackSectionLimit = 3000

// Slack posts cycle reports to an incoming webhook as Block Kit messages.
type Slack struct {
	Webhook  string
	Username string
	Client   *http.Client
}

// NewSlack returns nil when webhook is empty; a nil *Slack refuses to send.
func NewSlack(webhook string) *Slack {
	if webhook == "" {
		return nil
	}
	return &Slack{
		Webhook:  webhook,
		Username: "urlmonitor",
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackBlock struct {
	Type string     `json:"type"`
	Text *slackText `json:"text,omitempty"`
}

type slackMessage struct {
	Text     string       `json:"text"` // notification fallback
	Username string       `json:"username,omitempty"`
	Blocks   []slackBlock `json:"blocks"`
}

func buildSlackMessage(username, title, text string) slackMessage {
	msg := slackMessage{
		Text:     title,
		Username: username,
		Blocks: []slackBlock{
			{Type: "header", Text: &slackText{Type: "plain_text", Text: title}},
		},
	}
	if text != "" {
		if r := []rune(text); len(r) > slackSectionLimit {
			text = string(r[:slackSectionLimit-1]) + "…"
		}
		msg.Blocks = append(msg.Blocks, slackBlock{Type: "section", Text: &slackText{Type: "mrkdwn", Text: text}})
	}
	return msg
}

func (s *Slack) Send(ctx context.Context, title, text string) error {
	if s == nil || s.Webhook == "" {
		return errors.New("slack disabled")
	}
	body, err := json.Marshal(buildSlackMessage(s.Username, title, text))
	if err != nil {
		return fmt.Errorf("encode slack message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Webhook, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("post slack webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		// slack explains rejections in a short plain-text body
		reason, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("slack webhook: %s: %s", resp.Status, bytes.TrimSpace(reason))
	}
	return nil
}
