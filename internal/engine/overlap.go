package engine

import (
	"strings"

	"actionline/internal/domain"
)

// stopWords are discarded before scoring so overlap reflects content words.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "has": true, "he": true,
	"in": true, "is": true, "it": true, "its": true, "of": true, "on": true,
	"or": true, "our": true, "she": true, "that": true, "the": true,
	"their": true, "them": true, "they": true, "this": true, "to": true,
	"up": true, "was": true, "we": true, "were": true, "will": true,
	"with": true, "you": true, "your": true,
}

// tokenSet builds the scoring token set from a task's title and description.
func tokenSet(t domain.Task) map[string]bool {
	set := map[string]bool{}
	for _, tok := range strings.Fields(normalizeText(t.Title + " " + t.Description)) {
		if stopWords[tok] {
			continue
		}
		set[tok] = true
	}
	return set
}

// overlapScore is the containment ratio |A∩B| / min(|A|,|B|). Containment is
// deliberate: a short new title fully contained in a longer existing
// description still scores 1.0, where Jaccard would dilute it. Returns 0 when
// either set is empty.
func overlapScore(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	inter := 0
	for tok := range small {
		if large[tok] {
			inter++
		}
	}
	return float64(inter) / float64(len(small))
}

// OverlapScore scores how likely two tasks describe the same item phrased
// differently.
func OverlapScore(a, b domain.Task) float64 {
	return overlapScore(tokenSet(a), tokenSet(b))
}
