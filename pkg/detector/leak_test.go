package detector

import (
	"testing"

	"github.com/hervehildenbrand/bgp-shortlived/pkg/models"
)

func seq(asns ...uint32) models.ASPathSegment {
	return models.ASPathSegment{Sequence: true, ASNs: asns}
}

func TestFindLeak(t *testing.T) {
	tests := []struct {
		name string
		path []models.ASPathSegment
		want Leak
		ok   bool
	}{
		{
			name: "small AS between Cogent and Lumen",
			path: []models.ASPathSegment{seq(6939, 174, 64500, 3356, 13335)},
			want: Leak{LeakingASN: 64500, UpstreamTier1: 174, DownstreamTier1: 3356},
			ok:   true,
		},
		{
			name: "scrubbing center between Tier-1s",
			path: []models.ASPathSegment{seq(174, 13335, 3356)},
		},
		{
			name: "adjacent Tier-1s",
			path: []models.ASPathSegment{seq(174, 3356, 64500)},
		},
		{
			name: "set breaks the pattern",
			path: []models.ASPathSegment{seq(174), {ASNs: []uint32{64500}}, seq(3356)},
		},
		{name: "empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FindLeak(tt.path)
			if ok != tt.ok || got != tt.want {
				t.Errorf("FindLeak() = %+v, %v, want %+v, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestPathOrigin(t *testing.T) {
	tests := []struct {
		name string
		path []models.ASPathSegment
		want uint32
	}{
		{"sequence", []models.ASPathSegment{seq(6939, 13335)}, 13335},
		{"trailing set", []models.ASPathSegment{seq(6939), {ASNs: []uint32{1, 2}}}, 0},
		{"empty", nil, 0},
	}
	for _, tt := range tests {
		if got := PathOrigin(tt.path); got != tt.want {
			t.Errorf("%s: PathOrigin() = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestAnnotations(t *testing.T) {
	if !IsTier1(3356) || IsTier1(64500) {
		t.Error("IsTier1 misclassified")
	}
	if !IsScrubbing(13335) || IsScrubbing(3356) {
		t.Error("IsScrubbing misclassified")
	}
	if !HasScrubbingCenter([]models.ASPathSegment{seq(6939), {ASNs: []uint32{20940}}}) {
		t.Error("HasScrubbingCenter missed Akamai inside a set")
	}
}
