package app

import (
	"github.com/shopspring/decimal"

	"github.com/fitsched/billing-service/internal/domain"
)

// resolveSessionRate returns the price to charge for one session.
//
// Group sessions resolve through three tiers: the client's own group rate,
// then the trainer's default group rate, then the client's individual rate.
// Individual sessions always use the client's individual rate, which
// upstream onboarding guarantees is set. Absence of a rate at any tier is
// not an error; it falls through to the next tier.
func resolveSessionRate(profile *domain.ClientProfile, settings *domain.TrainerSettings, isGroup bool) decimal.Decimal {
	if !isGroup {
		return profile.SessionRate
	}
	if profile.GroupSessionRate != nil {
		return *profile.GroupSessionRate
	}
	if settings != nil && settings.DefaultGroupSessionRate != nil {
		return *settings.DefaultGroupSessionRate
	}
	return profile.SessionRate
}
