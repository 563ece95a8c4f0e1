package bots

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/jaswdr/faker"
)

// Names returns n distinct chef ids such as "maria-3", built from seeded
// fake first names so a fleet keeps its players across runs.
func Names(n int, seed int64) []string {
	fake := faker.NewWithSeed(rand.NewSource(seed)) //nolint:gosec // display names
	out := make([]string, 0, n)
	for i := range n {
		first := strings.ToLower(fake.Person().FirstName())
		first = strings.Map(func(r rune) rune {
			if r >= 'a' && r <= 'z' {
				return r
			}
			return -1
		}, first)
		if first == "" {
			first = "chef"
		}
		out = append(out, fmt.Sprintf("%s-%d", first, i+1))
	}
	return out
}
