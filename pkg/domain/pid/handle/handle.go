// Package handle is a PID client for a handle registry speaking JSON over HTTP.
package handle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/opst/orchestration/pkg/domain"
	xerr "github.com/opst/orchestration/pkg/domain/errors"
	"github.com/opst/orchestration/pkg/domain/pid"
	"github.com/opst/orchestration/pkg/utils/retry"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

type client struct {
	base   *url.URL
	http   *http.Client
	policy retry.Policy
	agent  domain.Agent
	logger zerolog.Logger
}

type Option func(*client)

// WithHTTPClient replaces the http client. Use this to inject authentication (e.g. oauth2).
func WithHTTPClient(c *http.Client) Option {
	return func(cl *client) {
		cl.http = c
	}
}

// WithRetry sets how many attempts are made and how long to wait between them.
//
// Only server-side failures are retried. Rollback never retries.
func WithRetry(maxAttempts int, delay time.Duration) Option {
	return func(cl *client) {
		cl.policy.MaxAttempts = maxAttempts
		cl.policy.Delay = delay
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(cl *client) {
		cl.logger = l
	}
}

// New returns a pid.Client for the registry at endpoint.
//
// serviceAgent is recorded as the agent which issues PIDs.
func New(endpoint string, serviceAgent domain.Agent, options ...Option) (pid.Client, error) {
	base, err := url.Parse(strings.TrimSuffix(endpoint, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("pid registry endpoint: %w", err)
	}
	c := &client{
		base:   base,
		http:   &http.Client{Timeout: 30 * time.Second},
		policy: retry.Policy{MaxAttempts: 3, Delay: 500 * time.Millisecond, Retryable: serverSide},
		agent:  serviceAgent,
		logger: zerolog.Nop(),
	}
	for _, o := range options {
		o(c)
	}
	c.policy.Retryable = serverSide
	return c, nil
}

// serverSide reports errors worth retrying: 5xx responses and requests which got no response.
func serverSide(err error) bool {
	pe, ok := xerr.AsPidError(err)
	if !ok {
		return false
	}
	return pe.Status == 0 || 500 <= pe.Status
}

type createRequest struct {
	Data []createItem `json:"data"`
}

type createItem struct {
	Type       string         `json:"type"`
	Attributes map[string]any `json:"attributes"`
}

type idItem struct {
	ID string `json:"id"`
}

type idList struct {
	Data []idItem `json:"data"`
}

type tombstoneRequest struct {
	Data tombstoneItem `json:"data"`
}

type tombstoneItem struct {
	Type       string              `json:"type"`
	ID         string              `json:"id"`
	Attributes tombstoneAttributes `json:"attributes"`
}

type tombstoneAttributes struct {
	TombstoneText string `json:"tombstoneText"`
	TombstonedAt  string `json:"tombstonedAt"`
	TombstonedBy  string `json:"tombstonedBy"`
}

func (c *client) Issue(ctx context.Context, kind domain.Kind, attributes map[string]any) (string, error) {
	attrs := map[string]any{}
	for k, v := range attributes {
		attrs[k] = v
	}
	attrs["issuedForAgent"] = c.agent.ID

	body := createRequest{Data: []createItem{{Type: kind.Type(), Attributes: attrs}}}
	var resp idList
	if err := c.call(ctx, c.policy, http.MethodPost, "batch", body, &resp); err != nil {
		return "", err
	}
	if len(resp.Data) == 0 || resp.Data[0].ID == "" {
		return "", xerr.NewPidError(http.StatusOK, "registry returned no pid", nil)
	}
	id := resp.Data[0].ID
	c.logger.Debug().Str("pid", id).Str("kind", kind.String()).Msg("pid issued")
	return id, nil
}

func (c *client) Tombstone(ctx context.Context, kind domain.Kind, id string, meta domain.TombstoneMetadata) error {
	body := tombstoneRequest{
		Data: tombstoneItem{
			Type: kind.Type(),
			ID:   id,
			Attributes: tombstoneAttributes{
				TombstoneText: meta.Reason,
				TombstonedAt:  meta.At.UTC().Format(time.RFC3339Nano),
				TombstonedBy:  meta.Agent.ID,
			},
		},
	}
	return c.call(ctx, c.policy, http.MethodPut, id, body, nil)
}

func (c *client) Rollback(ctx context.Context, id string) error {
	body := idList{Data: []idItem{{ID: id}}}
	return c.call(ctx, retry.Once, http.MethodDelete, "rollback/create", body, nil)
}

func (c *client) call(ctx context.Context, policy retry.Policy, method string, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return xerr.NewPidError(0, "encoding request", err)
	}
	target := c.base.JoinPath(path)

	_, err = retry.Do(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.once(ctx, method, target.String(), payload, out)
	})
	return err
}

func (c *client) once(ctx context.Context, method string, target string, payload []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(payload))
	if err != nil {
		return xerr.NewPidError(0, "building request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if status, ok := tokenRejected(err); ok {
			c.logger.Warn().Int("status", status).Str("method", method).Str("url", target).Msg("token endpoint rejected the client credentials")
			return xerr.NewPidError(http.StatusUnauthorized, fmt.Sprintf("%s %s: token endpoint responded with %d", method, target, status), err)
		}
		c.logger.Warn().Err(err).Str("method", method).Str("url", target).Msg("pid registry unreachable")
		return xerr.NewPidError(0, method+" "+target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || 300 <= resp.StatusCode {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Warn().Int("status", resp.StatusCode).Str("method", method).Str("url", target).Msg("pid registry responded with error")
		return xerr.NewPidError(
			resp.StatusCode,
			fmt.Sprintf("%s %s: %s: %s", method, target, resp.Status, strings.TrimSpace(string(msg))),
			nil,
		)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return xerr.NewPidError(resp.StatusCode, "decoding response", err)
	}
	return nil
}

// tokenRejected reports whether err is a 4xx response of the oauth2 token endpoint, with its status.
func tokenRejected(err error) (int, bool) {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) || re.Response == nil {
		return 0, false
	}
	status := re.Response.StatusCode
	return status, 400 <= status && status < 500
}
