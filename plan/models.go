package plan

import (
	"github.com/DimensionCoin/credits/types"
	"github.com/DimensionCoin/credits/user"
)

// BasicCredits is the per-period allotment of the basic tier.
const BasicCredits int64 = 200

// Plan maps a billing provider price to the tier and credit allotment it grants.
type Plan struct {
	PriceID string      `json:"price_id"`
	Name    string      `json:"name"`
	Tier    user.Tier   `json:"tier"`
	Credits int64       `json:"credits"`
	Price   types.Money `json:"price"`
}

// Basic returns the basic plan bound to priceID.
func Basic(priceID string) Plan {
	return Plan{
		PriceID: priceID,
		Name:    "Basic",
		Tier:    user.TierBasic,
		Credits: BasicCredits,
	}
}

// Free is the plan users fall back to on cancellation.
func Free() Plan {
	return Plan{
		Name:    "Free",
		Tier:    user.TierFree,
		Credits: user.DefaultCredits,
	}
}
