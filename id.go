package rental

import "github.com/xraph/rental/id"

// ID is the identifier type for registry records, settlements and transfers.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
