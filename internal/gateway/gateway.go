package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrUnauthorized means the gateway rejected the API key (HTTP 401/403).
	ErrUnauthorized = errors.New("gateway: unauthorized")
	// ErrStreamClosed means the remote side ended the event stream.
	ErrStreamClosed = errors.New("gateway: stream closed")
)

const apiKeyHeader = "X-API-KEY"

// Sender delivers outgoing messages to a room or user.
type Sender interface {
	SendText(ctx context.Context, msg, receiver, aters string) error
	SendFile(ctx context.Context, dataBase64, filename, receiver string) error
	SendImage(ctx context.Context, dataBase64, filename, receiver string) error
}

// Stream yields raw event lines until it ends.
type Stream interface {
	// Next blocks for the next line. It returns ErrStreamClosed at a clean end.
	Next() (string, error)
	Close() error
}

// Client speaks the WCF HTTP gateway API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient builds a gateway client. httpClient may be nil. Requests carry no
// timeout of their own; the event stream is long-lived.
func NewClient(baseURL, apiKey string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpClient,
		logger:  logger,
	}
}

type ack struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%s: %w (status %d)", op, ErrUnauthorized, resp.StatusCode)
	}
	return fmt.Errorf("%s: unexpected status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(body)))
}

func (c *Client) do(ctx context.Context, op, method, path string, payload any) (*ack, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(op, resp)
	}

	var out ack
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", op, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return &out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", op, err)
	}
	if out.Status != "" && out.Status != "ok" {
		return nil, fmt.Errorf("%s: gateway status %q: %s", op, out.Status, out.Message)
	}
	return &out, nil
}

func (c *Client) SendText(ctx context.Context, msg, receiver, aters string) error {
	payload := map[string]string{"msg": msg, "receiver": receiver}
	if aters != "" {
		payload["aters"] = aters
	}
	if _, err := c.do(ctx, "send text", http.MethodPost, "/send-text", payload); err != nil {
		return err
	}
	c.logger.Debug("Sent text message", zap.String("receiver", receiver), zap.Int("length", len(msg)))
	return nil
}

func (c *Client) SendFile(ctx context.Context, dataBase64, filename, receiver string) error {
	payload := map[string]string{"file_data": dataBase64, "filename": filename, "receiver": receiver}
	_, err := c.do(ctx, "send file", http.MethodPost, "/send-file", payload)
	return err
}

func (c *Client) SendImage(ctx context.Context, dataBase64, filename, receiver string) error {
	payload := map[string]string{"image_data": dataBase64, "filename": filename, "receiver": receiver}
	_, err := c.do(ctx, "send image", http.MethodPost, "/send-image", payload)
	return err
}

// SelfID returns the bot's own wxid.
func (c *Client) SelfID(ctx context.Context) (string, error) {
	out, err := c.do(ctx, "get self wxid", http.MethodGet, "/get-self-wxid", nil)
	if err != nil {
		return "", err
	}
	if out.Status != "ok" {
		return "", fmt.Errorf("get self wxid: unexpected response status %q", out.Status)
	}
	var id string
	if err := json.Unmarshal(out.Data, &id); err != nil || id == "" {
		return "", fmt.Errorf("get self wxid: missing wxid in response")
	}
	return id, nil
}

// Subscribe opens the server-sent event stream. Authentication failures
// wrap ErrUnauthorized; everything else is retryable.
func (c *Client) Subscribe(ctx context.Context) (Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/subscribe", nil)
	if err != nil {
		return nil, fmt.Errorf("subscribe: build request: %w", err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, statusError("subscribe", resp)
	}
	return newLineStream(resp.Body), nil
}

type lineStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
}

func newLineStream(body io.ReadCloser) *lineStream {
	return &lineStream{body: body, reader: bufio.NewReaderSize(body, 64*1024)}
}

func (s *lineStream) Next() (string, error) {
	line, err := s.reader.ReadString('\n')
	if err == nil {
		return strings.TrimRight(line, "\r\n"), nil
	}
	if errors.Is(err, io.EOF) {
		if line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", ErrStreamClosed
	}
	return "", fmt.Errorf("read event stream: %w", err)
}

func (s *lineStream) Close() error {
	return s.body.Close()
}
