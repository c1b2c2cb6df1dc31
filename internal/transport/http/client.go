package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"quiz-learner-client/internal/domain"
)

// Client talks to the quiz server's REST API.
// 5xx responses and transport failures wrap domain.ErrTransient; other non-2xx wrap domain.ErrRejected.
type Client struct {
	baseURL string
	client  *http.Client
	headers map[string]string
	group   singleflight.Group
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		headers: make(map[string]string),
	}
}

func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	raw, err := c.raw(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, endpoint, err)
	}
	return nil
}

func (c *Client) raw(ctx context.Context, method, endpoint string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s %s: %v", domain.ErrTransient, method, endpoint, err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response body: %v", domain.ErrTransient, err)
	}
	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %s %s returned %d: %s", domain.ErrTransient, method, endpoint, resp.StatusCode, strings.TrimSpace(string(responseBody)))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: %s %s returned %d: %s", domain.ErrRejected, method, endpoint, resp.StatusCode, strings.TrimSpace(string(responseBody)))
	}
	return responseBody, nil
}

func sessionPath(sessionID string) string {
	return "/sessions/" + url.PathEscape(sessionID)
}

// FetchSnapshot loads the session as seen by one participant. Identical concurrent
// fetches (poll loop and an explicit refresh) share one request. The shared request
// is detached from any single caller, and each caller stops waiting when its own ctx ends.
func (c *Client) FetchSnapshot(ctx context.Context, sessionID, participantID string, cursor int) (domain.SessionSnapshot, error) {
	q := url.Values{}
	q.Set("participant_id", participantID)
	q.Set("cursor", strconv.Itoa(cursor))
	endpoint := sessionPath(sessionID) + "/participant?" + q.Encode()

	ch := c.group.DoChan(endpoint, func() (any, error) {
		reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.client.Timeout)
		defer cancel()
		var snap domain.SessionSnapshot
		if err := c.do(reqCtx, http.MethodGet, endpoint, nil, &snap); err != nil {
			return domain.SessionSnapshot{}, err
		}
		return snap, nil
	})
	select {
	case <-ctx.Done():
		return domain.SessionSnapshot{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return domain.SessionSnapshot{}, res.Err
		}
		return res.Val.(domain.SessionSnapshot), nil
	}
}

func (c *Client) SubmitAnswer(ctx context.Context, sessionID string, submission domain.AnswerSubmission) (domain.AnswerResult, error) {
	var result domain.AnswerResult
	err := c.do(ctx, http.MethodPost, sessionPath(sessionID)+"/answer", submission, &result)
	return result, err
}

func (c *Client) FetchParticipantState(ctx context.Context, sessionID, participantID string) (domain.ParticipantState, error) {
	var state domain.ParticipantState
	endpoint := sessionPath(sessionID) + "/participants/" + url.PathEscape(participantID) + "/state"
	err := c.do(ctx, http.MethodGet, endpoint, nil, &state)
	return state, err
}

type reactionResponse struct {
	Reaction string `json:"reaction"`
}

func (c *Client) React(ctx context.Context, req domain.ReactionRequest) (string, error) {
	var resp reactionResponse
	if err := c.do(ctx, http.MethodPost, "/host/react/answer", req, &resp); err != nil {
		return "", err
	}
	return resp.Reaction, nil
}

type finishRequest struct {
	ParticipantID string `json:"participant_id"`
}

func (c *Client) NotifyFinished(ctx context.Context, sessionID, participantID string) error {
	return c.do(ctx, http.MethodPost, sessionPath(sessionID)+"/player-finish", finishRequest{ParticipantID: participantID}, nil)
}

func (c *Client) RequestExitTicket(ctx context.Context, req domain.ExitTicketRequest) (domain.ExitTicket, error) {
	var ticket domain.ExitTicket
	err := c.do(ctx, http.MethodPost, "/student-learning/exit-ticket", req, &ticket)
	return ticket, err
}

func (c *Client) AnswerExitTicket(ctx context.Context, answer domain.ExitTicketAnswer) (domain.ExitTicketResult, error) {
	var result domain.ExitTicketResult
	err := c.do(ctx, http.MethodPost, "/student-learning/exit-ticket/answer", answer, &result)
	return result, err
}

// Export downloads the session export in the given format (md by default).
func (c *Client) Export(ctx context.Context, sessionID, format string) ([]byte, error) {
	if format == "" {
		format = "md"
	}
	return c.raw(ctx, http.MethodGet, sessionPath(sessionID)+"/export?format="+url.QueryEscape(format), nil)
}
