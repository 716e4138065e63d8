// Package script runs adapters written in JavaScript on the goja runtime.
//
// A script defines a function (by default "handle") that receives the
// request payload and a small request object, and returns either a plain
// value or an object of the form {data: ..., units: n}:
//
//	function handle(input, req) {
//	  return { data: input.text.toUpperCase(), units: input.text.length };
//	}
//
// Each execution gets a fresh runtime, so scripts cannot share state
// between requests.
package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dop251/goja"

	"github.com/xraph/billing/adapter"
	"github.com/xraph/billing/store"
	"github.com/xraph/billing/types"
)

// DefaultEntryPoint is the function called when none is configured.
const DefaultEntryPoint = "handle"

// DefaultTimeout bounds one execution when the context has no deadline.
const DefaultTimeout = 2 * time.Second

var (
	// ErrEntryPoint is returned when the script does not define the entry
	// point as a function.
	ErrEntryPoint = errors.New("script: entry point is not a function")

	// ErrUnits is returned when a script reports a non-integral unit count.
	ErrUnits = errors.New("script: units must be an integer")

	// ErrTimeout is returned when execution is interrupted.
	ErrTimeout = errors.New("script: execution interrupted")
)

// Config describes a script adapter.
type Config struct {
	ID         string
	Name       string
	Price      types.Money
	Source     string
	EntryPoint string
	Timeout    time.Duration
	Logger     *slog.Logger
}

// Adapter executes a compiled JavaScript program.
type Adapter struct {
	cfg     Config
	program *goja.Program
}

var _ adapter.Adapter = (*Adapter)(nil)

// New compiles cfg.Source. Syntax errors surface here rather than on the
// first request.
func New(cfg Config) (*Adapter, error) {
	if cfg.EntryPoint == "" {
		cfg.EntryPoint = DefaultEntryPoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}

	prog, err := goja.Compile(cfg.ID+".js", cfg.Source, true)
	if err != nil {
		return nil, fmt.Errorf("script: compile %s: %w", cfg.ID, err)
	}
	return &Adapter{cfg: cfg, program: prog}, nil
}

func (a *Adapter) ID() string             { return a.cfg.ID }
func (a *Adapter) Name() string           { return a.cfg.Name }
func (a *Adapter) UnitPrice() types.Money { return a.cfg.Price }

// Execute implements adapter.Adapter.
func (a *Adapter) Execute(ctx context.Context, in *adapter.Input) (*adapter.Output, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	timeout := a.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			vm.Interrupt("timeout")
		case <-ctx.Done():
			vm.Interrupt(ctx.Err().Error())
		case <-done:
		}
	}()

	a.installConsole(vm, in)

	if _, err := vm.RunProgram(a.program); err != nil {
		return nil, a.runError(err)
	}
	fn, ok := goja.AssertFunction(vm.Get(a.cfg.EntryPoint))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryPoint, a.cfg.EntryPoint)
	}

	reqObj := map[string]any{}
	if in != nil && in.Request != nil {
		reqObj["id"] = in.Request.ID.String()
		reqObj["account_id"] = in.Request.AccountID
		reqObj["service_id"] = in.Request.ServiceID
	}

	result, err := fn(goja.Undefined(), vm.ToValue(in.Payload()), vm.ToValue(reqObj))
	if err != nil {
		return nil, a.runError(err)
	}
	return toOutput(result)
}

func (a *Adapter) installConsole(vm *goja.Runtime, in *adapter.Input) {
	logger := a.cfg.Logger.With("service_id", a.cfg.ID)
	if in != nil && in.Request != nil {
		logger = logger.With("request_id", in.Request.ID.String())
	}

	console := vm.NewObject()
	_ = console.Set("log", func(call goja.FunctionCall) goja.Value {
		args := make([]any, len(call.Arguments))
		for i, arg := range call.Arguments {
			args[i] = arg.Export()
		}
		logger.Info("script: console.log", "args", args)
		return goja.Undefined()
	})
	_ = vm.Set("console", console)
}

func (a *Adapter) runError(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, a.cfg.ID, interrupted.Value())
	}
	return fmt.Errorf("script: %s: %w", a.cfg.ID, err)
}

// toOutput maps a script result onto an adapter.Output. An object with a
// "units" or "data" key is treated as an envelope; anything else is the
// data itself, billed as one unit.
func toOutput(v goja.Value) (*adapter.Output, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return &adapter.Output{}, nil
	}

	exported := v.Export()
	m, ok := exported.(map[string]any)
	if !ok {
		return &adapter.Output{Data: exported}, nil
	}

	raw, hasUnits := m["units"]
	data, hasData := m["data"]
	if !hasUnits && !hasData {
		return &adapter.Output{Data: m}, nil
	}

	out := &adapter.Output{Data: data}
	if hasUnits {
		n, ok := store.ToInt64(raw)
		if !ok {
			return nil, fmt.Errorf("%w: got %v", ErrUnits, raw)
		}
		out.EstimatedUnits = adapter.Units(n)
	}
	return out, nil
}
