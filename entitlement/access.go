/*
Package entitlement decides who may watch what, and sells access.

PURPOSE:
  The single canonical decision function for episode accessibility, and
  the unlock transaction handler that converts coins into durable access
  grants. The original system computed accessibility redundantly at
  several call sites; here it is one ordered rule list with one test per
  rule.

KEY CONCEPTS IN THIS FILE (access.go):
  - Access: The evaluation result, tagged with the rule that matched
  - Evaluate: Pure function over episode, series, and grant snapshot

EVALUATION ORDER (short-circuit on first match):
  1. Episode is free by flag
  2. Episode number within the series' free threshold (current setting)
  3. No identity -> denied (remaining rules need a user)
  4. Series-wide unlock grant exists
  5. Individual episode unlock grant exists
  6. Denied

  Grants are permanent; the free threshold is a visibility convenience
  that only ever widens access. Lowering it never revokes a grant.

SEE ALSO:
  - unlock.go: The priced path when evaluation denies access
*/
package entitlement

import (
	"github.com/warp/entitlement-engine/catalog"
	"github.com/warp/entitlement-engine/ledger"
)

// =============================================================================
// ACCESS RESULT
// =============================================================================

// Rule identifies which evaluation rule granted (or denied) access.
type Rule string

const (
	RuleFreeFlag      Rule = "free_flag"
	RuleFreeThreshold Rule = "free_threshold"
	RuleSeriesUnlock  Rule = "series_unlock"
	RuleEpisodeUnlock Rule = "episode_unlock"
	RuleDenied        Rule = "denied"
)

// Access is a point-in-time snapshot. Callers re-evaluate after any
// unlock or purchase rather than caching indefinitely.
type Access struct {
	Accessible bool
	Rule       Rule
}

// Grants is the caller's durable unlock state relevant to one episode.
type Grants struct {
	SeriesUnlocked  bool
	EpisodeUnlocked bool
}

// =============================================================================
// EVALUATOR
// =============================================================================

// Evaluate applies the ordered rule list. Pure: no side effects, safe
// at arbitrary read concurrency. userID is empty for anonymous callers.
func Evaluate(userID ledger.UserID, ep *catalog.Episode, series *catalog.Series, grants Grants) Access {
	if ep.IsFree {
		return Access{Accessible: true, Rule: RuleFreeFlag}
	}
	if ep.EpisodeNumber <= series.FreeEpisodes {
		return Access{Accessible: true, Rule: RuleFreeThreshold}
	}
	if userID == "" {
		return Access{Rule: RuleDenied}
	}
	if grants.SeriesUnlocked {
		return Access{Accessible: true, Rule: RuleSeriesUnlock}
	}
	if grants.EpisodeUnlocked {
		return Access{Accessible: true, Rule: RuleEpisodeUnlock}
	}
	return Access{Rule: RuleDenied}
}
