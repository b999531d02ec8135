package simulation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Guizzs26/live_poll_tally/internal/model"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server answered %d: %s", e.Status, e.Message)
}

// Client talks to the poll server's HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: baseURL, http: hc}
}

func (c *Client) CreateUser(ctx context.Context, nu model.NewUser) (model.User, error) {
	var u model.User
	err := c.do(ctx, http.MethodPost, "/api/users", nil, nu, &u)
	return u, err
}

// CreatePoll creates a poll owned by creatorID.
func (c *Client) CreatePoll(ctx context.Context, creatorID string, np model.NewPoll) (model.Poll, error) {
	var p model.Poll
	err := c.do(ctx, http.MethodPost, "/api/polls", url.Values{"creator_id": {creatorID}}, np, &p)
	return p, err
}

func (c *Client) CastVote(ctx context.Context, userID, pollID, optionID string) (model.VoteReceipt, error) {
	var r model.VoteReceipt
	body := map[string]string{"poll_id": pollID, "poll_option_id": optionID}
	err := c.do(ctx, http.MethodPost, "/api/votes", url.Values{"user_id": {userID}}, body, &r)
	return r, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var buf bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return fmt.Errorf("error encoding request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return fmt.Errorf("error building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &APIError{Status: resp.StatusCode, Message: e.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding %s %s response: %w", method, path, err)
	}
	return nil
}
