package scan

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Validates invariant 1 (§8): for a given checkID, ShouldRun returns true
// exactly once per distinct dedupe key, no matter how many times it's
// called or in what order the keys arrive.
func TestProperty_DedupeIndex_ClaimsEachKeyExactlyOnce(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("each (checkID, key) pair is claimed at most once", prop.ForAll(
		func(checkID string, keys []string, repeats int) bool {
			index := NewDedupeIndex()

			claims := make(map[string]int)
			for i := 0; i < repeats; i++ {
				for _, key := range keys {
					if index.ShouldRun(checkID, key) {
						claims[key]++
					}
				}
			}

			for _, count := range claims {
				if count != 1 {
					return false
				}
			}
			return len(claims) == len(uniqueStrings(keys))
		},
		gen.AlphaString(),
		gen.SliceOf(gen.AlphaString()),
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}

// Validates that Clone() is a true deep copy: claiming a key on the clone
// never affects the original index (Open Question c: estimate() must not
// mutate shared dedupe state).
func TestProperty_DedupeIndex_CloneIsIndependent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("claiming a key on a clone does not affect the original", prop.ForAll(
		func(checkID string, seeded []string, probeKey string) bool {
			original := NewDedupeIndex()
			original.Seed(checkID, seeded)

			clone := original.Clone()
			clone.ShouldRun(checkID, probeKey)

			wasSeeded := contains(seeded, probeKey)
			originalStillClaimable := original.ShouldRun(checkID, probeKey)
			return originalStillClaimable == !wasSeeded
		},
		gen.AlphaString(),
		gen.SliceOf(gen.AlphaString()),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

func contains(in []string, target string) bool {
	for _, s := range in {
		if s == target {
			return true
		}
	}
	return false
}

func ExampleDedupeIndex_ShouldRun() {
	index := NewDedupeIndex()
	fmt.Println(index.ShouldRun("check-a", "key-1"))
	fmt.Println(index.ShouldRun("check-a", "key-1"))
	// Output:
	// true
	// false
}
