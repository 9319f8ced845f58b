// Package example is a reference capability.PluginModule implementation,
// adapted from the teacher's streamspace-slack plugin
// (plugins/streamspace-slack/slack_plugin.go): same webhook-POST notification
// shape and per-hour rate limiting, rewired from the teacher's
// OnLoad/OnSessionCreated hook surface onto this host's lifecycle contract
// (Validate/OnInitialize/OnConfigure/OnStart/OnStop/OnUnload/OnConfigChanged/
// Health).
package example

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pluginhost/core/internal/capability"
)

// SlackMessage is the webhook payload shape Slack's Incoming Webhooks API
// expects.
type SlackMessage struct {
	Text        string       `json:"text,omitempty"`
	Channel     string       `json:"channel,omitempty"`
	Username    string       `json:"username,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type Attachment struct {
	Color     string  `json:"color,omitempty"`
	Title     string  `json:"title,omitempty"`
	Fields    []Field `json:"fields,omitempty"`
	Footer    string  `json:"footer,omitempty"`
	Timestamp int64   `json:"ts,omitempty"`
}

type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// SlackNotifier posts lifecycle events to a Slack incoming webhook. It
// registers itself into its own per-plugin provider under the "Notifier"
// service type, so it resolves through that provider. Other plugins' providers
// resolve only their own registrations and the host root provider, so they do
// not see this registration.
type SlackNotifier struct {
	capability.BaseModule

	client *http.Client

	webhookURL  string
	channel     string
	username    string
	rateLimit   int
	messageCount int
	lastReset    time.Time
}

// New constructs a fresh, unconfigured notifier — the parameterless
// constructor every entry point must expose (spec §4.3).
func New() capability.PluginModule {
	return &SlackNotifier{client: &http.Client{Timeout: 5 * time.Second}, lastReset: time.Now()}
}

func (s *SlackNotifier) Validate(ctx context.Context, vctx *capability.ValidationContext) *capability.ValidationResult {
	result := &capability.ValidationResult{}
	if s.client == nil {
		result.AddError("http client not constructed")
	}
	return result
}

func (s *SlackNotifier) OnInitialize(ctx context.Context, services capability.ServiceCollection) error {
	services.Register(capability.Registration{
		ServiceType: "Notifier",
		Lifetime:    capability.LifetimeSingleton,
		Factory: func(p capability.ServiceProvider) (interface{}, error) {
			return s, nil
		},
	})
	return nil
}

func (s *SlackNotifier) OnConfigure(ctx context.Context, builder *capability.AppBuilder) error {
	return nil
}

// OnStart succeeds even before a webhook is configured: the host delivers
// configuration through OnConfigChanged only once the plugin is running, and
// until then Health reports Degraded and Notify returns an error.
func (s *SlackNotifier) OnStart(ctx context.Context) error {
	return nil
}

func (s *SlackNotifier) OnStop(ctx context.Context) error   { return nil }
func (s *SlackNotifier) OnUnload(ctx context.Context) error { return nil }

// OnConfigChanged applies newConfig's webhookUrl/channel/username/rateLimit
// keys, following the teacher's permissive map[string]interface{} config
// shape (slack_plugin.go's ctx.Config reads).
func (s *SlackNotifier) OnConfigChanged(ctx context.Context, newConfig map[string]interface{}) error {
	if v, ok := newConfig["webhookUrl"].(string); ok {
		s.webhookURL = v
	}
	if v, ok := newConfig["channel"].(string); ok {
		s.channel = v
	}
	if v, ok := newConfig["username"].(string); ok {
		s.username = v
	}
	if v, ok := newConfig["rateLimit"].(float64); ok {
		s.rateLimit = int(v)
	}
	return nil
}

func (s *SlackNotifier) Health(ctx context.Context) *capability.HealthResult {
	if s.webhookURL == "" {
		return &capability.HealthResult{Status: capability.HealthDegraded, Message: "webhook not configured"}
	}
	return &capability.HealthResult{Status: capability.HealthHealthy}
}

// Notify sends a titled, fielded notification to the configured webhook,
// subject to the per-hour rate limit (spec's plugin-defined behavior; the
// host imposes no rate limiting of its own).
func (s *SlackNotifier) Notify(ctx context.Context, title string, fields map[string]string) error {
	if s.webhookURL == "" {
		return fmt.Errorf("slack notifier: webhook not configured")
	}
	if !s.checkRateLimit() {
		return fmt.Errorf("slack notifier: rate limit exceeded")
	}

	var attachmentFields []Field
	for k, v := range fields {
		attachmentFields = append(attachmentFields, Field{Title: k, Value: v, Short: true})
	}

	msg := SlackMessage{
		Channel:  s.channel,
		Username: s.username,
		Attachments: []Attachment{
			{Color: "good", Title: title, Fields: attachmentFields, Footer: "pluginhost", Timestamp: time.Now().Unix()},
		},
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send slack message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *SlackNotifier) checkRateLimit() bool {
	limit := s.rateLimit
	if limit <= 0 {
		limit = 20
	}
	now := time.Now()
	if now.Sub(s.lastReset) > time.Hour {
		s.messageCount = 0
		s.lastReset = now
	}
	if s.messageCount >= limit {
		return false
	}
	s.messageCount++
	return true
}

var _ capability.PluginModule = (*SlackNotifier)(nil)
