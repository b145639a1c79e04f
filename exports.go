package atelier

import "github.com/xraph/atelier/types"

// Re-export common types so callers rarely need the types package.

// Money is re-exported from types package.
type Money = types.Money

// Entity is re-exported from types package.
type Entity = types.Entity

// Attributes is re-exported from types package.
type Attributes = types.Attributes

// Re-export Money constructors
var (
	GBP  = types.GBP
	EUR  = types.EUR
	USD  = types.USD
	Zero = types.Zero
	Sum  = types.Sum
)
