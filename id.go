package credits

import "github.com/DimensionCoin/credits/id"

// ID is the primary identifier type for all persisted entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
