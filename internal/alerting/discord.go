package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"market-alerts/internal/model"
)

// Discord embed limits.
const (
	discordTitleLimit       = 256
	discordDescriptionLimit = 4096
	discordFieldLimit       = 25
	discordFieldValueLimit  = 1024
)

// DiscordNotifier posts embeds to channels through the Discord bot REST API.
type DiscordNotifier struct {
	botToken string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewDiscordNotifier constructs a Discord notifier.
func NewDiscordNotifier(botToken, baseURL string, timeout time.Duration, logger zerolog.Logger) *DiscordNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://discord.com/api/v10"
	}
	return &DiscordNotifier{
		botToken: botToken,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_discord").Logger(),
	}
}

// Name implements Notifier.
func (n *DiscordNotifier) Name() string { return "discord" }

type discordEmbed struct {
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	URL         string              `json:"url,omitempty"`
	Color       int                 `json:"color"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
	Timestamp   string              `json:"timestamp,omitempty"`
	Image       *discordEmbedImage  `json:"image,omitempty"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbedImage struct {
	URL string `json:"url"`
}

type discordMessage struct {
	Embeds []discordEmbed `json:"embeds"`
}

// Send posts one embed to the channel id. Attachments go as multipart files
// referenced from the embed image.
func (n *DiscordNotifier) Send(ctx context.Context, channelID string, event model.AlertEvent) error {
	msg := discordMessage{Embeds: []discordEmbed{buildEmbed(event)}}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}

	var (
		body        io.Reader = bytes.NewReader(payload)
		contentType           = "application/json"
	)
	if event.Attachment != nil && len(event.Attachment.Data) > 0 {
		name := attachmentName(event.Attachment)
		msg.Embeds[0].Image = &discordEmbedImage{URL: "attachment://" + name}
		if payload, err = json.Marshal(msg); err != nil {
			return fmt.Errorf("marshal discord payload: %w", err)
		}
		buf, ct, err := discordMultipart(payload, name, event.Attachment)
		if err != nil {
			return err
		}
		body, contentType = buf, ct
	}

	url := fmt.Sprintf("%s/channels/%s/messages", n.baseURL, channelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("create discord request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+n.botToken)
	req.Header.Set("Content-Type", contentType)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send discord request: %w", redactURLError(err, n.botToken))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("discord status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	n.logger.Debug().Str("channel_id", channelID).
		Str("kind", string(event.Kind)).
		Str("event_id", event.ID).
		Msg("alert sent (Discord)")
	return nil
}

func buildEmbed(event model.AlertEvent) discordEmbed {
	embed := discordEmbed{
		Title:       truncate(event.Title, discordTitleLimit),
		Description: truncate(event.Description, discordDescriptionLimit),
		URL:         event.URL,
		Color:       SeverityColor(event.Severity),
	}
	if !event.DetectedAt.IsZero() {
		embed.Timestamp = event.DetectedAt.UTC().Format(time.RFC3339)
	}
	for i, f := range event.Fields {
		if i == discordFieldLimit {
			break
		}
		value := f.Value
		if value == "" {
			value = "-"
		}
		embed.Fields = append(embed.Fields, discordEmbedField{
			Name:   f.Name,
			Value:  truncate(value, discordFieldValueLimit),
			Inline: f.Inline,
		})
	}
	return embed
}

func discordMultipart(payload []byte, name string, a *model.Attachment) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="payload_json"`)
	header.Set("Content-Type", "application/json")
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create discord payload part: %w", err)
	}
	if _, err := part.Write(payload); err != nil {
		return nil, "", fmt.Errorf("write discord payload: %w", err)
	}

	file, err := w.CreateFormFile("files[0]", name)
	if err != nil {
		return nil, "", fmt.Errorf("create discord file part: %w", err)
	}
	if _, err := file.Write(a.Data); err != nil {
		return nil, "", fmt.Errorf("write discord file: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close discord multipart: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

var _ Notifier = (*DiscordNotifier)(nil)
