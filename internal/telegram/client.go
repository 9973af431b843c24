package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultAPI is the public Bot API endpoint.
const DefaultAPI = "https://api.telegram.org"

// Client is a minimal Bot API client. It is safe for concurrent use; every
// call is an independent request on the shared http.Client.
type Client struct {
	Token string
	API   string
	HTTP  *http.Client
}

func NewClient(token, api string) *Client {
	if api == "" {
		api = DefaultAPI
	}
	return &Client{
		Token: token,
		API:   strings.TrimRight(api, "/"),
		HTTP:  &http.Client{Timeout: 10 * time.Second},
	}
}

type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
	Chat      Chat   `json:"chat"`
}

type Chat struct {
	ID       int64  `json:"id"`
	Type     string `json:"type,omitempty"`
	Username string `json:"username,omitempty"`
}

type response struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// GetUpdates fetches pending updates. offset 0 asks for everything the server
// still holds; timeout > 0 enables long polling for that many seconds.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error) {
	q := url.Values{}
	if offset != 0 {
		q.Set("offset", strconv.FormatInt(offset, 10))
	}
	if timeout > 0 {
		q.Set("timeout", strconv.Itoa(timeout))
	}
	u := c.endpoint("getUpdates")
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	httpClient := c.HTTP
	if timeout > 0 && httpClient.Timeout > 0 && httpClient.Timeout <= time.Duration(timeout)*time.Second {
		cp := *httpClient
		cp.Timeout = time.Duration(timeout)*time.Second + httpClient.Timeout
		httpClient = &cp
	}
	res, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 10<<20))
	if err != nil {
		return nil, err
	}
	var out response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode getUpdates (status %d): %w", res.StatusCode, err)
	}
	if !out.OK {
		return nil, apiError("getUpdates", res.StatusCode, out.Description)
	}
	var updates []Update
	if len(out.Result) > 0 {
		if err := json.Unmarshal(out.Result, &updates); err != nil {
			return nil, fmt.Errorf("decode getUpdates result: %w", err)
		}
	}
	return updates, nil
}

// SendMessage posts text to chatID.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	payload := map[string]any{"chat_id": chatID, "text": text, "disable_web_page_preview": true}
	b, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("sendMessage"), bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	resp, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
	if res.StatusCode >= 300 {
		var out response
		if json.Unmarshal(resp, &out) == nil && out.Description != "" {
			return apiError("sendMessage", res.StatusCode, out.Description)
		}
		return fmt.Errorf("telegram status %d: %s", res.StatusCode, string(resp))
	}
	return nil
}

func (c *Client) endpoint(method string) string {
	return c.API + "/bot" + c.Token + "/" + method
}

func apiError(method string, status int, desc string) error {
	if desc == "" {
		desc = "request not ok"
	}
	return fmt.Errorf("telegram %s status %d: %s", method, status, desc)
}
