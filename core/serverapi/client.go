package serverapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jasonchiu/cloudhelper/core/channel"
	"github.com/jasonchiu/cloudhelper/core/gateway"
	"github.com/jasonchiu/cloudhelper/core/record"
)

type Client struct {
	baseURL string
	channel string
	http    *http.Client
}

func New(baseURL, channelName string) (*Client, error) {
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if u == "" {
		return nil, fmt.Errorf("server URL is required")
	}
	name := strings.TrimSpace(channelName)
	if name == "" {
		name = channel.DefaultName
	}
	return &Client{
		baseURL: u,
		channel: name,
		http:    &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

func (c *Client) channelPath() string {
	return "/channels/" + url.PathEscape(c.channel)
}

// Invoke sends one method call and returns the channel reply. Error and
// not-implemented replies are returned as replies, not as err.
func (c *Client) Invoke(ctx context.Context, call channel.MethodCall) (channel.Reply, error) {
	var out channel.Reply
	if err := c.doJSON(ctx, http.MethodPost, c.channelPath(), call, &out, http.StatusNotImplemented); err != nil {
		return channel.Reply{}, err
	}
	return out, nil
}

// call invokes method and folds reply errors into err.
func (c *Client) call(ctx context.Context, method string, args map[string]any) (channel.Reply, error) {
	reply, err := c.Invoke(ctx, channel.MethodCall{Method: method, Arguments: args})
	if err != nil {
		return channel.Reply{}, err
	}
	if err := reply.Err(); err != nil {
		return channel.Reply{}, err
	}
	return reply, nil
}

func (c *Client) Initialize(ctx context.Context, container string, scope record.Scope) error {
	req := gateway.InitializeRequest{ContainerID: container, Scope: scope}
	_, err := c.call(ctx, channel.MethodInitialize, req.Arguments())
	return err
}

func (c *Client) AddRecord(ctx context.Context, req gateway.AddRecordRequest) (string, error) {
	reply, err := c.call(ctx, channel.MethodAddRecord, req.Arguments())
	if err != nil {
		return "", err
	}
	var out string
	if err := reply.DecodeResult(&out); err != nil {
		return "", err
	}
	return out, nil
}

func (c *Client) EditRecord(ctx context.Context, req gateway.EditRecordRequest) (string, error) {
	reply, err := c.call(ctx, channel.MethodEditRecord, req.Arguments())
	if err != nil {
		return "", err
	}
	var out string
	if err := reply.DecodeResult(&out); err != nil {
		return "", err
	}
	return out, nil
}

func (c *Client) DeleteRecord(ctx context.Context, id string) error {
	_, err := c.call(ctx, channel.MethodDeleteRecord, gateway.DeleteRecordRequest{ID: id}.Arguments())
	return err
}

func (c *Client) GetAllRecords(ctx context.Context, recordType string) ([]string, error) {
	reply, err := c.call(ctx, channel.MethodGetAllRecords, gateway.GetAllRecordsRequest{Type: recordType}.Arguments())
	if err != nil {
		return nil, err
	}
	out := []string{}
	if err := reply.DecodeResult(&out); err != nil {
		return nil, err
	}
	return out, nil
}

type ContextInfo struct {
	Initialized bool   `json:"initialized"`
	Container   string `json:"container,omitempty"`
	Scope       string `json:"scope,omitempty"`
}

// Context reports the container and scope the server is initialized with.
func (c *Client) Context(ctx context.Context) (ContextInfo, error) {
	var out ContextInfo
	if err := c.doJSON(ctx, http.MethodGet, c.channelPath()+"/context", nil, &out); err != nil {
		return ContextInfo{}, err
	}
	return out, nil
}

func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/healthz", nil, nil)
}

// doJSON treats 2xx and any status listed in accept as a decodable reply.
func (c *Client) doJSON(ctx context.Context, method, path string, reqBody any, dst any, accept ...int) error {
	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if (resp.StatusCode < 200 || resp.StatusCode >= 300) && !accepted(resp.StatusCode, accept) {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return fmt.Errorf("server %s %s: %s", method, path, errorText(resp.Status, msg))
	}
	if dst == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func accepted(status int, accept []int) bool {
	for _, s := range accept {
		if s == status {
			return true
		}
	}
	return false
}

// errorText prefers the {"error": ...} body the server writes.
func errorText(status string, body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && strings.TrimSpace(e.Error) != "" {
		return e.Error
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return status
}
