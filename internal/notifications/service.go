package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"camlapse/internal/config"
	"camlapse/internal/services"
)

const userAgent = "camlapse/0.1.0"

// ntfy priorities, 1 (min) to 5 (max).
const (
	priorityLow     = 2
	priorityDefault = 3
	priorityHigh    = 4
)

// Service is the set of run outcome alerts the CLI sends.
type Service interface {
	NotifyUploaded(ctx context.Context, videoID string, frames int) error
	NotifySuspended(ctx context.Context, videoPath string, cause error) error
	NotifyFailed(ctx context.Context, stage string, err error) error
	TestNotification(ctx context.Context) error
}

// NewService returns an ntfy publisher for the configured topic URL, or a
// no-op service when cfg is nil or no topic is set.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	return &ntfyService{topic: topic, client: &http.Client{Timeout: cfg.NotifyTimeout()}}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority int
	click    string
}

type ntfyService struct {
	topic  string
	client *http.Client
}

func (n *ntfyService) NotifyUploaded(ctx context.Context, videoID string, frames int) error {
	link := "https://youtu.be/" + strings.TrimSpace(videoID)
	body := "Timelapse uploaded: " + link
	if frames > 0 {
		body += "\nFrames: " + strconv.Itoa(frames)
	}
	return n.publish(ctx, message{
		title: "camlapse: uploaded",
		body:  body,
		tags:  []string{"white_check_mark", "camlapse"},
		click: link,
	})
}

func (n *ntfyService) NotifySuspended(ctx context.Context, videoPath string, cause error) error {
	body := "Upload pending; video kept at " + strings.TrimSpace(videoPath)
	if cause != nil {
		body += "\nReason: " + strings.TrimSpace(cause.Error())
	}
	return n.publish(ctx, message{
		title: "camlapse: upload suspended",
		body:  body,
		tags:  []string{"pause_button", "camlapse"},
	})
}

func (n *ntfyService) NotifyFailed(ctx context.Context, stage string, err error) error {
	reason := "unknown error"
	if err != nil {
		reason = strings.TrimSpace(err.Error())
	}
	body := "Run failed: " + reason
	if stage = strings.TrimSpace(stage); stage != "" {
		body = fmt.Sprintf("Run failed during %s: %s", stage, reason)
	}
	if err != nil {
		body += "\nHint: " + services.Hint(err)
	}
	return n.publish(ctx, message{
		title:    "camlapse: run failed",
		body:     body,
		tags:     []string{"x", "camlapse"},
		priority: priorityHigh,
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.publish(ctx, message{
		title:    "camlapse: test",
		body:     "Notifications are working",
		tags:     []string{"test_tube", "camlapse"},
		priority: priorityLow,
	})
}

// publish posts m to the topic using ntfy's header form: the body is the
// message text and everything else travels in headers.
func (n *ntfyService) publish(ctx context.Context, m message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.topic, strings.NewReader(m.body))
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "notify", "build request", n.topic, err)
	}
	header := req.Header
	header.Set("User-Agent", userAgent)
	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Set("Title", m.title)
	if len(m.tags) > 0 {
		header.Set("Tags", strings.Join(m.tags, ","))
	}
	if m.priority != 0 && m.priority != priorityDefault {
		header.Set("Priority", strconv.Itoa(m.priority))
	}
	if m.click != "" {
		header.Set("Click", m.click)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "notify", "publish", "", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	marker := services.ErrConfiguration
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		marker = services.ErrTransient
	}
	return services.Wrap(marker, "notify", "publish",
		fmt.Sprintf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))), nil)
}

type noopService struct{}

func (noopService) NotifyUploaded(context.Context, string, int) error    { return nil }
func (noopService) NotifySuspended(context.Context, string, error) error { return nil }
func (noopService) NotifyFailed(context.Context, string, error) error    { return nil }
func (noopService) TestNotification(context.Context) error               { return nil }
