// Package httpcall bills calls to an upstream HTTP service.
//
// The request payload is POSTed as JSON; the upstream's JSON reply is
// inspected with gjson paths to find the billable unit count and the part
// of the body to return to the caller.
package httpcall

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/xraph/billing/adapter"
	"github.com/xraph/billing/types"
)

// DefaultTimeout applies when Config.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// maxBody caps how much of an upstream reply is read.
const maxBody = 4 << 20

var (
	// ErrUpstream is returned for non-2xx replies.
	ErrUpstream = errors.New("httpcall: upstream error")

	// ErrInvalidReply is returned when the reply is not JSON or the unit
	// path does not hold an integer.
	ErrInvalidReply = errors.New("httpcall: invalid upstream reply")
)

// Config describes an upstream service.
type Config struct {
	ID      string
	Name    string
	Price   types.Money
	URL     string
	Method  string
	Headers map[string]string
	Timeout time.Duration

	// UnitsPath is a gjson path to the unit count. Empty or missing bills
	// one unit.
	UnitsPath string

	// DataPath selects the result returned to the caller. Empty returns
	// the whole reply.
	DataPath string

	Client *http.Client
}

// Adapter calls an upstream service.
type Adapter struct {
	cfg Config
}

var _ adapter.Adapter = (*Adapter)(nil)

// New validates cfg and returns an adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("httpcall: %s: url is required", cfg.ID)
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	return &Adapter{cfg: cfg}, nil
}

func (a *Adapter) ID() string             { return a.cfg.ID }
func (a *Adapter) Name() string           { return a.cfg.Name }
func (a *Adapter) UnitPrice() types.Money { return a.cfg.Price }

// Execute implements adapter.Adapter.
func (a *Adapter) Execute(ctx context.Context, in *adapter.Input) (*adapter.Output, error) {
	body, err := json.Marshal(in.Payload())
	if err != nil {
		return nil, fmt.Errorf("httpcall: %s: encode payload: %w", a.cfg.ID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, a.cfg.Method, a.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("httpcall: %s: %w", a.cfg.ID, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if in != nil && in.Request != nil {
		req.Header.Set("X-Request-ID", in.Request.ID.String())
		req.Header.Set("X-Account-ID", in.Request.AccountID)
	}
	for k, v := range a.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := a.cfg.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpcall: %s: %w", a.cfg.ID, err)
	}
	defer resp.Body.Close()

	reply, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("httpcall: %s: read reply: %w", a.cfg.ID, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned %d", ErrUpstream, a.cfg.ID, resp.StatusCode)
	}

	return a.parse(reply)
}

func (a *Adapter) parse(reply []byte) (*adapter.Output, error) {
	if len(bytes.TrimSpace(reply)) == 0 {
		return &adapter.Output{}, nil
	}
	if !gjson.ValidBytes(reply) {
		return nil, fmt.Errorf("%w: %s: not JSON", ErrInvalidReply, a.cfg.ID)
	}

	out := &adapter.Output{}
	if a.cfg.DataPath == "" {
		out.Data = gjson.ParseBytes(reply).Value()
	} else {
		out.Data = gjson.GetBytes(reply, a.cfg.DataPath).Value()
	}

	if a.cfg.UnitsPath != "" {
		res := gjson.GetBytes(reply, a.cfg.UnitsPath)
		if res.Exists() {
			n, err := integer(res)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %s: %w", ErrInvalidReply, a.cfg.ID, a.cfg.UnitsPath, err)
			}
			out.EstimatedUnits = adapter.Units(n)
		}
	}
	return out, nil
}

func integer(r gjson.Result) (int64, error) {
	if r.Type != gjson.Number {
		return 0, fmt.Errorf("want number, got %s", r.Type)
	}
	if r.Num != math.Trunc(r.Num) {
		return 0, fmt.Errorf("want integer, got %s", r.Raw)
	}
	return r.Int(), nil
}
