package echo

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/xraph/billing/adapter"
	"github.com/xraph/billing/request"
	"github.com/xraph/billing/types"
)

func run(t *testing.T, payload any) *adapter.Output {
	t.Helper()
	a := New("", types.USD(5))
	req := request.New("alice", a.ID(), payload, time.Now())
	out, err := a.Execute(context.Background(), &adapter.Input{Request: req})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return out
}

func TestEcho(t *testing.T) {
	tests := []struct {
		name    string
		payload any
		units   int64
	}{
		{"nil payload", nil, 1},
		{"string payload", "hi", 1},
		{"explicit units", map[string]any{"units": 4}, 4},
		{"json number units", map[string]any{"units": json.Number("7")}, 7},
		{"fractional units ignored", map[string]any{"units": 1.5}, 1},
		{"zero units", map[string]any{"units": 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := run(t, tt.payload)
			if got := out.Units(); got != tt.units {
				t.Errorf("Units() = %d, want %d", got, tt.units)
			}
		})
	}
}

func TestEchoDefaults(t *testing.T) {
	a := New("", types.USD(5))
	if a.ID() != DefaultID {
		t.Errorf("ID() = %q, want %q", a.ID(), DefaultID)
	}
	if a.UnitPrice() != types.USD(5) {
		t.Errorf("UnitPrice() = %v", a.UnitPrice())
	}
	if got := run(t, "ping").Data; got != "ping" {
		t.Errorf("Data = %v, want ping", got)
	}
}
