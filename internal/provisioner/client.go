// File: internal/provisioner/client.go
package provisioner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/threadweaver/internal/config"
)

// ErrServiceRejected is returned when the service answers with a non-zero code.
var ErrServiceRejected = errors.New("provisioning service rejected request")

// metaMarker finds the JSON blob some services keep in a free-text note.
var metaMarker = regexp.MustCompile(`(?i)meta\s*::`)

// Endpoint is where a started browser accepts DevTools connections.
type Endpoint struct {
	WebSocketURL string `json:"ws_endpoint"`
	DebugPort    string `json:"debug_port"`
}

// envelope is the service's response wrapper.
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type attributesData struct {
	Attributes map[string]interface{} `json:"attributes"`
	Remark     string                 `json:"remark"`
}

// Client talks to the local identity-provisioning service.
type Client struct {
	logger *zap.Logger
	http   *retryablehttp.Client
	cfg    config.ProvisionerConfig
}

// NewClient creates a client. Transport errors, 429 and 5xx answers are
// retried RetryMax times with a constant RetryWait between attempts.
func NewClient(logger *zap.Logger, cfg config.ProvisionerConfig) *Client {
	named := logger.Named("provisioner")

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = cfg.RetryWait
	rc.RetryWaitMax = cfg.RetryWait
	rc.Backoff = func(min, _ time.Duration, _ int, _ *http.Response) time.Duration { return min }
	rc.Logger = leveledLogger{named.Sugar()}
	if cfg.Timeout > 0 {
		rc.HTTPClient.Timeout = cfg.Timeout
	}

	return &Client{logger: named, http: rc, cfg: cfg}
}

// Start launches the browser bound to id and returns its endpoint.
func (c *Client) Start(ctx context.Context, id string) (Endpoint, error) {
	var ep Endpoint
	if err := c.call(ctx, c.cfg.StartPath, id, &ep); err != nil {
		return Endpoint{}, fmt.Errorf("start %s: %w", id, err)
	}
	if ep.WebSocketURL == "" {
		return Endpoint{}, fmt.Errorf("start %s: service returned no DevTools endpoint", id)
	}
	c.logger.Info("Browser started.", zap.String("identity", id), zap.String("endpoint", ep.WebSocketURL))
	return ep, nil
}

// Stop shuts down the browser bound to id.
func (c *Client) Stop(ctx context.Context, id string) error {
	if err := c.call(ctx, c.cfg.StopPath, id, nil); err != nil {
		return fmt.Errorf("stop %s: %w", id, err)
	}
	c.logger.Info("Browser stopped.", zap.String("identity", id))
	return nil
}

// AttributesOf returns the stored attributes of id, read from the structured
// attributes object or, failing that, from a "meta :: {...}" note.
func (c *Client) AttributesOf(ctx context.Context, id string) (map[string]string, error) {
	var data attributesData
	if err := c.call(ctx, c.cfg.AttributesPath, id, &data); err != nil {
		return nil, fmt.Errorf("attributes of %s: %w", id, err)
	}

	source := data.Attributes
	if len(source) == 0 && data.Remark != "" {
		parsed, err := parseRemark(data.Remark)
		if err != nil {
			c.logger.Debug("Ignoring unparseable note.", zap.String("identity", id), zap.Error(err))
		}
		source = parsed
	}

	out := make(map[string]string, len(source))
	for k, v := range source {
		if v == nil {
			continue
		}
		out[strings.ToLower(k)] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out, nil
}

// parseRemark extracts the JSON object following the meta marker.
func parseRemark(remark string) (map[string]interface{}, error) {
	loc := metaMarker.FindStringIndex(remark)
	if loc == nil {
		return nil, nil
	}
	rest := remark[loc[1]:]
	start := strings.Index(rest, "{")
	end := strings.LastIndex(rest, "}")
	if start < 0 || end < start {
		return nil, errors.New("no JSON object after meta marker")
	}
	var meta map[string]interface{}
	if err := json.Unmarshal([]byte(rest[start:end+1]), &meta); err != nil {
		return nil, err
	}
	return meta, nil
}

func (c *Client) call(ctx context.Context, path, id string, out interface{}) error {
	endpoint, err := url.JoinPath(c.cfg.BaseURL, path)
	if err != nil {
		return fmt.Errorf("invalid service URL: %w", err)
	}
	endpoint += "?" + url.Values{"identity_id": {id}}.Encode()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if env.Code != 0 {
		return fmt.Errorf("%w: code %d: %s", ErrServiceRejected, env.Code, env.Msg)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}

// leveledLogger routes retryablehttp's logging into zap. Failed attempts are
// retried, so they are logged as warnings.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Warnw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }

var _ retryablehttp.LeveledLogger = leveledLogger{}
