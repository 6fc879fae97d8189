// Package mailgate implements the imports.Provider interface against the
// mailgate HTTP message API used by the recruiting mailbox.
package mailgate

import (
	"context"
	"encoding/base64"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/hireloop/mailroom/errors"
	"github.com/hireloop/mailroom/imports"
)

// Config holds connection settings for the mailgate API.
type Config struct {
	BaseURL              string
	Token                string
	Timeout              time.Duration
	RetryCount           int
	MaxRequestsPerMinute int
}

// Client is a rate-limited mailgate API client.
type Client struct {
	client  *resty.Client
	limiter *rate.Limiter
}

// New creates a mailgate client.
func New(cfg Config) *Client {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Authorization", "Bearer "+cfg.Token).
		SetHeader("Content-Type", "application/json")

	// Retry on 429 and 5xx in addition to transport errors.
	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		return r.StatusCode() == 429 || r.StatusCode() >= 500
	})

	rpm := cfg.MaxRequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}

	return &Client{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
	}
}

type messageEnvelope struct {
	ID         string    `json:"id"`
	ThreadID   string    `json:"thread_id,omitempty"`
	From       string    `json:"from,omitempty"`
	To         []string  `json:"to,omitempty"`
	Subject    string    `json:"subject,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
	RawBase64  string    `json:"raw,omitempty"`
}

type listResponse struct {
	Messages   []messageEnvelope `json:"messages"`
	NextCursor string            `json:"next_cursor,omitempty"`
	Error      string            `json:"error,omitempty"`
}

type messageResponse struct {
	Message messageEnvelope `json:"message"`
	Error   string          `json:"error,omitempty"`
}

// ListInbox pages forward through the mailbox using the server's opaque
// cursor.
func (c *Client) ListInbox(ctx context.Context, mailbox string, cursor string, limit int) (*imports.MessagePage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var resp listResponse
	httpResp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("mailbox", mailbox).
		SetQueryParam("cursor", cursor).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&resp).
		SetError(&resp).
		Get("/v1/messages")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list inbox")
	}
	if httpResp.IsError() {
		return nil, apiError("list inbox", httpResp, resp.Error)
	}

	page := &imports.MessagePage{NextCursor: resp.NextCursor}
	for _, m := range resp.Messages {
		page.Messages = append(page.Messages, descriptor(m))
	}
	return page, nil
}

// SearchBefore returns messages received strictly before the given instant,
// newest first.
func (c *Client) SearchBefore(ctx context.Context, mailbox string, before time.Time, limit int) ([]imports.MessageDescriptor, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var resp listResponse
	httpResp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("mailbox", mailbox).
		SetQueryParam("before", before.UTC().Format(time.RFC3339)).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&resp).
		SetError(&resp).
		Get("/v1/messages/search")
	if err != nil {
		return nil, errors.Wrap(err, "failed to search messages")
	}
	if httpResp.IsError() {
		return nil, apiError("search messages", httpResp, resp.Error)
	}

	var msgs []imports.MessageDescriptor
	for _, m := range resp.Messages {
		msgs = append(msgs, descriptor(m))
	}
	return msgs, nil
}

// FetchMessage retrieves a single message's full content.
func (c *Client) FetchMessage(ctx context.Context, externalID string) (*imports.Message, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var resp messageResponse
	httpResp, err := c.client.R().
		SetContext(ctx).
		SetResult(&resp).
		SetError(&resp).
		Get("/v1/messages/" + externalID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch message %s", externalID)
	}
	if httpResp.StatusCode() == 404 {
		return nil, errors.NewNotFoundError("message not found: %s", externalID)
	}
	if httpResp.IsError() {
		return nil, apiError("fetch message", httpResp, resp.Error)
	}

	m := resp.Message
	raw, err := base64.StdEncoding.DecodeString(m.RawBase64)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode raw content for message %s", externalID)
	}

	return &imports.Message{
		ExternalID: m.ID,
		ThreadID:   m.ThreadID,
		From:       m.From,
		To:         m.To,
		Subject:    m.Subject,
		ReceivedAt: m.ReceivedAt,
		Raw:        raw,
	}, nil
}

func descriptor(m messageEnvelope) imports.MessageDescriptor {
	return imports.MessageDescriptor{
		ExternalID: m.ID,
		ThreadID:   m.ThreadID,
		ReceivedAt: m.ReceivedAt,
	}
}

func apiError(op string, resp *resty.Response, detail string) error {
	if detail != "" {
		return errors.Newf("mailgate %s: %s (status %d)", op, detail, resp.StatusCode())
	}
	return errors.Newf("mailgate %s: status %d", op, resp.StatusCode())
}

