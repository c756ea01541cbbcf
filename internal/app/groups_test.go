package app

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fitsched/billing-service/internal/domain"
)

func apptAt(start, end time.Time) domain.Appointment {
	return domain.Appointment{
		ID:        uuid.New(),
		StartTime: start,
		EndTime:   end,
		Status:    domain.AppointmentScheduled,
	}
}

func TestClassifySession(t *testing.T) {
	base := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	hour := time.Hour

	candidate := apptAt(base, base.Add(hour))

	exact := apptAt(base, base.Add(hour))
	sameStart := apptAt(base, base.Add(30*time.Minute))
	sameEnd := apptAt(base.Add(15*time.Minute), base.Add(hour))
	partial := apptAt(base.Add(30*time.Minute), base.Add(90*time.Minute))
	adjacent := apptAt(base.Add(hour), base.Add(2*hour))
	disjoint := apptAt(base.Add(3*hour), base.Add(4*hour))

	tests := []struct {
		name             string
		logic            domain.GroupMatchingLogic
		others           []domain.Appointment
		wantGroup        bool
		wantParticipants int
	}{
		{"exact match counts identical slots", domain.MatchExact, []domain.Appointment{exact, sameStart, partial}, true, 2},
		{"exact match ignores near misses", domain.MatchExact, []domain.Appointment{sameStart, sameEnd, partial}, false, 1},
		{"start match counts shared starts", domain.MatchStart, []domain.Appointment{exact, sameStart, sameEnd}, true, 3},
		{"end match counts shared ends", domain.MatchEnd, []domain.Appointment{exact, sameEnd, sameStart}, true, 3},
		{"any overlap counts intersections", domain.MatchAnyOverlap, []domain.Appointment{partial, sameStart, disjoint}, true, 3},
		{"any overlap excludes back-to-back slots", domain.MatchAnyOverlap, []domain.Appointment{adjacent, disjoint}, false, 1},
		{"no overlapping appointments is individual", domain.MatchAnyOverlap, nil, false, 1},
		{"unknown strategy behaves like exact", domain.GroupMatchingLogic("FUZZY"), []domain.Appointment{exact, partial}, true, 2},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			isGroup, participants := classifySession(candidate, tc.others, tc.logic)
			if isGroup != tc.wantGroup {
				t.Errorf("expected group=%v, got %v", tc.wantGroup, isGroup)
			}
			if participants != tc.wantParticipants {
				t.Errorf("expected %d participants, got %d", tc.wantParticipants, participants)
			}
		})
	}
}

func TestClassifySession_IgnoresCandidateItself(t *testing.T) {
	base := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	candidate := apptAt(base, base.Add(time.Hour))

	isGroup, participants := classifySession(candidate, []domain.Appointment{candidate}, domain.MatchExact)
	if isGroup {
		t.Error("an appointment cannot form a group with itself")
	}
	if participants != 1 {
		t.Errorf("expected 1 participant, got %d", participants)
	}
}
