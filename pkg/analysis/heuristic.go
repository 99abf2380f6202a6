package analysis

import (
	"strings"
	"unicode"

	"publicsquare/pkg/models"
)

const unavailableMsg = "service unavailable"

// DefaultDenylist mirrors the historical fallback check. Operators are
// expected to supply a real policy via configuration.
var DefaultDenylist = []string{"toxic"}

// DefaultClaimMarkers are copula forms that make a sentence read as an
// assertion worth fact-checking.
var DefaultClaimMarkers = []string{" is ", " are ", " was ", " were ", " will "}

// DefaultClaimMinLen filters out short interjections ("this is fine").
const DefaultClaimMinLen = 24

// Heuristic is the terminal analysis tier: pure, deterministic, and
// incapable of failing. It also hosts the claim detector used to decide
// whether a message warrants a fact-check pass.
type Heuristic struct {
	Denylist     []string
	ClaimMarkers []string
	ClaimMinLen  int
}

func NewHeuristic(denylist, claimMarkers []string, claimMinLen int) Heuristic {
	if len(denylist) == 0 {
		denylist = DefaultDenylist
	}
	if len(claimMarkers) == 0 {
		claimMarkers = DefaultClaimMarkers
	}
	if claimMinLen <= 0 {
		claimMinLen = DefaultClaimMinLen
	}
	return Heuristic{Denylist: denylist, ClaimMarkers: claimMarkers, ClaimMinLen: claimMinLen}
}

// Moderate classifies content by denylist substring match.
func (h Heuristic) Moderate(content string) *models.ModerationResult {
	folded := strings.ToLower(content)
	toxic := false
	for _, term := range h.Denylist {
		if term != "" && strings.Contains(folded, strings.ToLower(term)) {
			toxic = true
			break
		}
	}
	return &models.ModerationResult{
		IsToxic:    toxic,
		Confidence: 0.5,
		Categories: []string{},
		Message:    unavailableMsg,
		Source:     models.SourceHeuristic,
		Degraded:   true,
	}
}

// FactCheck returns the terminal unverified verdict.
func (h Heuristic) FactCheck(claim string) *models.FactCheck {
	return &models.FactCheck{
		Claim:       claim,
		Verdict:     models.VerdictUnverified,
		Sources:     []string{},
		Confidence:  0,
		Explanation: unavailableMsg,
		Source:      models.SourceHeuristic,
		Degraded:    true,
	}
}

// ContainsClaim reports whether content looks like a factual assertion:
// long enough and carrying either a claim marker or a digit.
func (h Heuristic) ContainsClaim(content string) bool {
	s := strings.TrimSpace(content)
	if len(s) < h.ClaimMinLen {
		return false
	}
	folded := " " + strings.ToLower(s) + " "
	for _, m := range h.ClaimMarkers {
		if strings.Contains(folded, m) {
			return true
		}
	}
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
