package billing

import "github.com/xraph/billing/id"

// ID is the identifier type for ledger entries and requests.
type ID = id.ID

// Prefix identifies the record type encoded in a TypeID.
type Prefix = id.Prefix
