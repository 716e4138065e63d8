package billing_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/xraph/billing"
	"github.com/xraph/billing/adapter"
	"github.com/xraph/billing/store/memory"
)

// TestDocumentationExamples verifies that the package documentation examples
// compile and behave as described.
func TestDocumentationExamples(t *testing.T) {
	t.Run("QuickStartExample", func(t *testing.T) {
		ctx := context.Background()
		s := memory.New()
		engine := billing.New(s, billing.WithLogger(slog.Default()))

		err := engine.RegisterAdapter(&billing.AdapterFunc{
			ServiceID: "translate",
			Price:     billing.USD(250),
			Fn: func(ctx context.Context, in *adapter.Input) (*adapter.Output, error) {
				return &adapter.Output{Data: "hola", EstimatedUnits: billing.Units(3)}, nil
			},
		})
		if err != nil {
			t.Fatal(err)
		}

		if err := engine.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer engine.Stop()

		if _, err := engine.OpenAccount(ctx, "alice", billing.USD(1000)); err != nil {
			t.Fatal(err)
		}

		res, err := engine.ProcessRequest(ctx, "alice", "translate", map[string]any{"text": "hello"})
		if err != nil {
			t.Fatal(err)
		}
		if res.Data != "hola" {
			t.Errorf("data = %v, want hola", res.Data)
		}
		if !res.Balance.Equal(billing.USD(250)) {
			t.Errorf("balance = %s, want $2.50", res.Balance)
		}
		if res.Entry.Cost.Amount != 750 {
			t.Errorf("cost = %d, want 750", res.Entry.Cost.Amount)
		}
	})

	t.Run("MoneyExamples", func(t *testing.T) {
		price := billing.USD(250)
		if price.String() != "$2.50" {
			t.Errorf("String() = %q", price.String())
		}
		if price.FormatMajor() != "2.50" {
			t.Errorf("FormatMajor() = %q", price.FormatMajor())
		}

		total, err := price.Mul(3)
		if err != nil || total.Amount != 750 {
			t.Errorf("Mul(3) = %v, %v", total, err)
		}

		parsed, err := billing.ParseMajor("7.50", "usd")
		if err != nil || !parsed.Equal(total) {
			t.Errorf("ParseMajor(7.50) = %v, %v", parsed, err)
		}

		if _, err := billing.USD(100).Add(billing.EUR(100)); err == nil {
			t.Error("adding different currencies must fail")
		}
		if billing.JPY(100).String() != "¥100" {
			t.Errorf("JPY String() = %q", billing.JPY(100).String())
		}
	})
}
