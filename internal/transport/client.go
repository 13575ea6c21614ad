package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dm-outreach-engine/internal/protocol"
)

// maxReply bounds how much of an agent reply is read.
const maxReply = 64 << 10

// Client talks to a remote agent's /v1/messages endpoint.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a client for the agent at baseURL. Delivery includes
// several human-paced waits, so timeout must cover a whole Delivery Operation.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Ping(ctx context.Context, tabID string) error {
	var reply protocol.PingReply
	if err := c.post(ctx, protocol.Message{Type: protocol.Ping, TabID: tabID}, &reply); err != nil {
		return err
	}
	if !reply.Ready {
		return ErrNotReady
	}
	return nil
}

func (c *Client) ExecuteDM(ctx context.Context, tabID, text string) (protocol.Result, error) {
	var res protocol.Result
	if err := c.post(ctx, protocol.Message{Type: protocol.ExecuteDM, TabID: tabID, Text: text}, &res); err != nil {
		return protocol.Result{}, err
	}
	return res, nil
}

func (c *Client) post(ctx context.Context, msg protocol.Message, out any) error {
	op := string(msg.Type)
	body, err := json.Marshal(msg)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReply))
	if err != nil {
		return &Error{Op: op, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode/100 != 2 {
		return &Error{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("%s", bytes.TrimSpace(raw))}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("malformed reply: %w", err)}
	}
	return nil
}
