package app

import (
	"testing"

	"github.com/fitsched/billing-service/internal/domain"
)

func TestResolveSessionRate(t *testing.T) {
	tests := []struct {
		name     string
		profile  domain.ClientProfile
		settings *domain.TrainerSettings
		isGroup  bool
		want     string
	}{
		{
			name:    "individual session uses the client rate",
			profile: domain.ClientProfile{SessionRate: dec("25"), GroupSessionRate: decp("15")},
			isGroup: false,
			want:    "25",
		},
		{
			name:     "group session prefers the client group rate",
			profile:  domain.ClientProfile{SessionRate: dec("25"), GroupSessionRate: decp("15")},
			settings: &domain.TrainerSettings{DefaultGroupSessionRate: decp("18")},
			isGroup:  true,
			want:     "15",
		},
		{
			name:     "group session falls back to the trainer default",
			profile:  domain.ClientProfile{SessionRate: dec("25")},
			settings: &domain.TrainerSettings{DefaultGroupSessionRate: decp("18")},
			isGroup:  true,
			want:     "18",
		},
		{
			name:    "group session falls back to the individual rate",
			profile: domain.ClientProfile{SessionRate: dec("25")},
			isGroup: true,
			want:    "25",
		},
		{
			name:     "nil settings do not break the fallback chain",
			profile:  domain.ClientProfile{SessionRate: dec("30")},
			settings: nil,
			isGroup:  true,
			want:     "30",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := resolveSessionRate(&tc.profile, tc.settings, tc.isGroup)
			if !got.Equal(dec(tc.want)) {
				t.Errorf("expected %s, got %s", tc.want, got)
			}
		})
	}
}
