package atelier

import "github.com/xraph/atelier/id"

// ID is the primary identifier type for all atelier entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix

// ParseSubscriptionID parses a "sub_" TypeID.
var ParseSubscriptionID = id.ParseSubscriptionID
