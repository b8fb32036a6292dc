// Package integration은 외부 서비스 알림을 담당합니다.
package integration

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/storage"
	"go.uber.org/zap"
)

const (
	colorSuccess = 0x2ecc71
	colorFailure = 0xe74c3c
	// Discord embed description 최대 길이
	maxDescription = 4000
)

// WebhookExecutor는 discordgo.Session의 웹훅 실행 부분입니다.
type WebhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Event는 알림 한 건입니다.
type Event struct {
	Title   string
	Body    string
	Success bool
}

// Notifier는 사용자의 활성 Discord 연동으로 알림을 보냅니다.
type Notifier struct {
	repo     *storage.Repository
	executor WebhookExecutor
	logger   *zap.Logger
}

// Option은 Notifier 옵션입니다.
type Option func(*Notifier)

// WithExecutor는 웹훅 실행기를 교체합니다.
func WithExecutor(exec WebhookExecutor) Option {
	return func(n *Notifier) {
		n.executor = exec
	}
}

// WithLogger는 로거를 설정합니다.
func WithLogger(logger *zap.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// NewNotifier는 Notifier를 생성합니다. 웹훅 호출에는 봇 토큰이 필요 없습니다.
func NewNotifier(repo *storage.Repository, opts ...Option) (*Notifier, error) {
	if repo == nil {
		return nil, fmt.Errorf("integration: repository is required")
	}
	n := &Notifier{repo: repo, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(n)
	}
	if n.executor == nil {
		session, err := discordgo.New("")
		if err != nil {
			return nil, fmt.Errorf("integration: create discord session: %w", err)
		}
		session.Client.Timeout = 10 * time.Second
		n.executor = session
	}
	return n, nil
}

// Notify는 userID의 활성 Discord 연동 전체에 evt를 보냅니다.
// 개별 전송 실패는 모아서 반환하며 나머지 전송은 계속합니다.
func (n *Notifier) Notify(ctx context.Context, userID string, evt Event) error {
	integrations, err := n.repo.ListEnabledIntegrations(ctx, userID, storage.IntegrationKindDiscord)
	if err != nil {
		return fmt.Errorf("integration: list integrations: %w", err)
	}

	params := buildParams(evt)
	var errs []error
	for _, in := range integrations {
		id, token, err := ParseWebhookURL(in.WebhookURL)
		if err != nil {
			errs = append(errs, fmt.Errorf("integration %s: %w", in.ID, err))
			continue
		}
		if _, err := n.executor.WebhookExecute(id, token, false, params, discordgo.WithContext(ctx)); err != nil {
			n.logger.Warn("Discord webhook failed",
				zap.String("integration_id", in.ID),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("integration %s: %w", in.ID, err))
			continue
		}
		n.logger.Debug("Discord webhook sent", zap.String("integration_id", in.ID))
	}
	return errors.Join(errs...)
}

// WorkflowFinished는 워크플로 실행 결과를 알립니다.
func (n *Notifier) WorkflowFinished(ctx context.Context, userID string, wf *storage.Workflow, summary string) error {
	return n.Notify(ctx, userID, Event{
		Title:   fmt.Sprintf("Workflow %q %s", wf.Name, wf.Status),
		Body:    summary,
		Success: wf.Status == storage.WorkflowStatusCompleted,
	})
}

func buildParams(evt Event) *discordgo.WebhookParams {
	color := colorFailure
	if evt.Success {
		color = colorSuccess
	}
	body := evt.Body
	if r := []rune(body); len(r) > maxDescription {
		body = string(r[:maxDescription-1]) + "…"
	}
	return &discordgo.WebhookParams{
		Username: "EchoSync",
		Embeds: []*discordgo.MessageEmbed{{
			Title:       evt.Title,
			Description: body,
			Color:       color,
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
		}},
	}
}

// ParseWebhookURL은 https://discord.com/api/webhooks/{id}/{token}에서 id와 token을 꺼냅니다.
func ParseWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid webhook url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("invalid webhook url %q", raw)
}
