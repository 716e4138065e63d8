package billing

import (
	"github.com/xraph/billing/adapter"
	"github.com/xraph/billing/types"
)

// Re-export common types for convenience so users don't have to import the
// types and adapter packages for the basics.

// Money is re-exported from types package.
type Money = types.Money

// Adapter is re-exported from adapter package.
type Adapter = adapter.Adapter

// AdapterFunc is re-exported from adapter package.
type AdapterFunc = adapter.Func

// Re-export Money constructors
var (
	USD        = types.USD
	EUR        = types.EUR
	GBP        = types.GBP
	JPY        = types.JPY
	Zero       = types.Zero
	ParseMajor = types.ParseMajor
)

// Units returns a pointer suitable for adapter.Output.EstimatedUnits.
var Units = adapter.Units
