package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"errors"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"market-alerts/internal/model"
)

const (
	telegramCaptionLimit = 1024
	telegramTextLimit    = 4096
)

// Notifier 定义告警输送接口。handle 为通知渠道内的目标 (chat id / channel id)。
type Notifier interface {
	Name() string
	Send(ctx context.Context, handle string, event model.AlertEvent) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Name implements Notifier.
func (n *TelegramNotifier) Name() string { return "telegram" }

// Send 调用 sendMessage 推送文本; 带附件时改用 sendPhoto。
func (n *TelegramNotifier) Send(ctx context.Context, chatID string, event model.AlertEvent) error {
	var (
		req *http.Request
		err error
	)
	if event.Attachment != nil && len(event.Attachment.Data) > 0 {
		req, err = n.photoRequest(ctx, chatID, event)
	} else {
		req, err = n.messageRequest(ctx, chatID, event)
	}
	if err != nil {
		return err
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", redactURLError(err, n.botToken))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram 响应码异常: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false: %s", result.Description)
		}
	}

	n.logger.Debug().Str("chat_id", chatID).
		Str("kind", string(event.Kind)).
		Str("event_id", event.ID).
		Msg("告警已发送 (Telegram)")
	return nil
}

func (n *TelegramNotifier) messageRequest(ctx context.Context, chatID string, event model.AlertEvent) (*http.Request, error) {
	payload := map[string]any{
		"chat_id":                  chatID,
		"text":                     truncate(RenderText(event), telegramTextLimit),
		"disable_web_page_preview": event.Kind != model.KindNewsItem,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal telegram payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint("sendMessage"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (n *TelegramNotifier) photoRequest(ctx context.Context, chatID string, event model.AlertEvent) (*http.Request, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("chat_id", chatID)
	_ = w.WriteField("caption", truncate(RenderText(event), telegramCaptionLimit))

	part, err := w.CreateFormFile("photo", attachmentName(event.Attachment))
	if err != nil {
		return nil, fmt.Errorf("create telegram photo part: %w", err)
	}
	if _, err := part.Write(event.Attachment.Data); err != nil {
		return nil, fmt.Errorf("write telegram photo: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close telegram multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint("sendPhoto"), &buf)
	if err != nil {
		return nil, fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req, nil
}

func (n *TelegramNotifier) endpoint(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", n.baseURL, n.botToken, method)
}

// redactURLError 去掉传输错误 URL 中的 query 并遮蔽密钥, 避免 token 写进日志。
func redactURLError(err error, secrets ...string) error {
	var uerr *url.Error
	if !errors.As(err, &uerr) {
		return err
	}
	redacted := uerr.URL
	if u, perr := url.Parse(redacted); perr == nil {
		u.RawQuery = ""
		u.Fragment = ""
		u.User = nil
		redacted = u.String()
	}
	for _, secret := range secrets {
		if secret != "" {
			redacted = strings.ReplaceAll(redacted, secret, "***")
			redacted = strings.ReplaceAll(redacted, url.PathEscape(secret), "***")
		}
	}
	uerr.URL = redacted
	return err
}

// LogNotifier 仅写日志, 适用于本地调试。
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier 构造日志告警器。
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Name implements Notifier.
func (n *LogNotifier) Name() string { return "log" }

// Send writes the rendered event at info level.
func (n *LogNotifier) Send(_ context.Context, handle string, event model.AlertEvent) error {
	n.logger.Info().
		Str("target", handle).
		Str("kind", string(event.Kind)).
		Str("severity", string(event.Severity)).
		Str("instrument", event.InstrumentID).
		Msg(RenderText(event))
	return nil
}

func attachmentName(a *model.Attachment) string {
	if a.Filename != "" {
		return a.Filename
	}
	return "attachment.png"
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
