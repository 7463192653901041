package entitlement_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/entitlement-engine/catalog"
	"github.com/warp/entitlement-engine/entitlement"
)

// =============================================================================
// EVALUATION RULE TESTS - one per rule, in evaluation order
// =============================================================================

func pricedEpisode(number int) *catalog.Episode {
	return &catalog.Episode{
		ID:            "ep-1",
		SeriesID:      "sr-1",
		EpisodeNumber: number,
		PriceCoins:    10,
		IsPublished:   true,
	}
}

func TestEvaluate_FreeFlag(t *testing.T) {
	// GIVEN: An episode flagged free, priced anyway
	// THEN: Accessible to everyone, including anonymous callers

	ep := pricedEpisode(5)
	ep.IsFree = true
	series := &catalog.Series{ID: "sr-1", FreeEpisodes: 0}

	access := entitlement.Evaluate("", ep, series, entitlement.Grants{})
	assert.True(t, access.Accessible)
	assert.Equal(t, entitlement.RuleFreeFlag, access.Rule)
}

func TestEvaluate_FreeThreshold(t *testing.T) {
	// GIVEN: Series with free_episodes = 3; episode #2 is paid by flag
	// THEN: Accessible to any caller via the threshold

	ep := pricedEpisode(2)
	series := &catalog.Series{ID: "sr-1", FreeEpisodes: 3}

	access := entitlement.Evaluate("", ep, series, entitlement.Grants{})
	assert.True(t, access.Accessible)
	assert.Equal(t, entitlement.RuleFreeThreshold, access.Rule)
}

func TestEvaluate_Anonymous_PaidEpisode_Denied(t *testing.T) {
	// GIVEN: A paid episode above the threshold, no identity
	// THEN: Denied before the grant rules run

	ep := pricedEpisode(5)
	series := &catalog.Series{ID: "sr-1", FreeEpisodes: 3}

	// Grants would admit, but anonymous callers never reach them.
	access := entitlement.Evaluate("", ep, series, entitlement.Grants{SeriesUnlocked: true})
	assert.False(t, access.Accessible)
	assert.Equal(t, entitlement.RuleDenied, access.Rule)
}

func TestEvaluate_SeriesUnlock(t *testing.T) {
	ep := pricedEpisode(5)
	series := &catalog.Series{ID: "sr-1", FreeEpisodes: 0}

	access := entitlement.Evaluate("user-1", ep, series, entitlement.Grants{SeriesUnlocked: true})
	assert.True(t, access.Accessible)
	assert.Equal(t, entitlement.RuleSeriesUnlock, access.Rule)
}

func TestEvaluate_EpisodeUnlock(t *testing.T) {
	ep := pricedEpisode(5)
	series := &catalog.Series{ID: "sr-1", FreeEpisodes: 0}

	access := entitlement.Evaluate("user-1", ep, series, entitlement.Grants{EpisodeUnlocked: true})
	assert.True(t, access.Accessible)
	assert.Equal(t, entitlement.RuleEpisodeUnlock, access.Rule)
}

func TestEvaluate_NoGrants_Denied(t *testing.T) {
	ep := pricedEpisode(5)
	series := &catalog.Series{ID: "sr-1", FreeEpisodes: 0}

	access := entitlement.Evaluate("user-1", ep, series, entitlement.Grants{})
	assert.False(t, access.Accessible)
	assert.Equal(t, entitlement.RuleDenied, access.Rule)
}

func TestEvaluate_ThresholdLowered_GrantSurvives(t *testing.T) {
	// GIVEN: User unlocked the series while free_episodes was 3
	// WHEN: The series lowers free_episodes to 0
	// THEN: Episode #2 stays accessible via the grant

	ep := pricedEpisode(2)
	series := &catalog.Series{ID: "sr-1", FreeEpisodes: 0}

	access := entitlement.Evaluate("user-1", ep, series, entitlement.Grants{SeriesUnlocked: true})
	assert.True(t, access.Accessible)
	assert.Equal(t, entitlement.RuleSeriesUnlock, access.Rule)
}
