package credits

import (
	"github.com/DimensionCoin/credits/billing"
	"github.com/DimensionCoin/credits/plan"
	"github.com/DimensionCoin/credits/user"
)

// Re-exported so callers of the engine rarely need the subpackages.

type (
	User      = user.User
	Tier      = user.Tier
	Profile   = user.Profile
	UsageMeta = user.UsageMeta
	Plan      = plan.Plan
	Event     = billing.Event
)

const (
	TierFree  = user.TierFree
	TierBasic = user.TierBasic
)
