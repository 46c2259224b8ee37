package rental

import (
	"github.com/xraph/rental/asset"
	"github.com/xraph/rental/settlement"
	"github.com/xraph/rental/types"
)

// Re-export common types so callers don't have to import the sub-packages
// for everyday use.

// AccountID is re-exported from the asset package.
type AccountID = asset.AccountID

// State is re-exported from the asset package.
type State = asset.State

// Asset is re-exported from the asset package.
type Asset = asset.Asset

// Handle is re-exported from the settlement package.
type Handle = settlement.Handle

// Amount is re-exported from the types package.
type Amount = types.Amount

// Re-export State constructors
var (
	Available  = asset.Available
	InUse      = asset.InUse
	Inspection = asset.Inspection
)

// Re-export Amount constructor
var Tokens = types.Tokens
