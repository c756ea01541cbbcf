package app

import (
	"context"

	"github.com/fitsched/billing-service/internal/domain"
)

// classifySession decides whether the candidate appointment is shared among
// multiple clients under the given matching strategy, and how many
// participants the slot has (the candidate included).
//
// others must already be restricted to SCHEDULED or COMPLETED appointments
// for the same trainer and workspace, excluding the candidate itself; the
// repository's ListOverlapCandidates does exactly that. This is a pure
// query: no side effects, safe to call repeatedly.
func classifySession(candidate domain.Appointment, others []domain.Appointment, logic domain.GroupMatchingLogic) (bool, int) {
	matched := 0
	for _, other := range others {
		if other.ID == candidate.ID {
			continue
		}
		if matches(candidate, other, logic) {
			matched++
		}
	}
	participants := matched + 1
	return participants > 1, participants
}

func matches(candidate, other domain.Appointment, logic domain.GroupMatchingLogic) bool {
	switch logic {
	case domain.MatchExact:
		return other.StartTime.Equal(candidate.StartTime) && other.EndTime.Equal(candidate.EndTime)
	case domain.MatchStart:
		return other.StartTime.Equal(candidate.StartTime)
	case domain.MatchEnd:
		return other.EndTime.Equal(candidate.EndTime)
	case domain.MatchAnyOverlap:
		return other.StartTime.Before(candidate.EndTime) && other.EndTime.After(candidate.StartTime)
	default:
		// Unknown strategies behave like EXACT_MATCH, the most conservative.
		return other.StartTime.Equal(candidate.StartTime) && other.EndTime.Equal(candidate.EndTime)
	}
}

// detectGroupSession loads the candidate's overlap window and classifies it
// under the trainer's configured matching strategy.
func (s *Service) detectGroupSession(ctx context.Context, candidate domain.Appointment, settings *domain.TrainerSettings) (bool, int, error) {
	others, err := s.repo.ListOverlapCandidates(ctx, candidate)
	if err != nil {
		return false, 0, err
	}
	logic := domain.MatchExact
	if settings != nil && settings.GroupSessionMatching != "" {
		logic = settings.GroupSessionMatching
	}
	isGroup, participants := classifySession(candidate, others, logic)
	return isGroup, participants, nil
}
