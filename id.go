package steward

import "github.com/quorumhq/steward/id"

// ID is the primary identifier type for all Steward entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
