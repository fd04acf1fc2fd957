package jobs

import "github.com/bimzik/backend/internal/models"

const (
	baseCost = 4
	// Lyrics drafted in CONTEXT mode were already paid for separately.
	contextDiscount = 1
	// Seed audio with lyrics is a hum-along; without lyrics the seed is sung.
	hummingSurcharge = 1
	singingSurcharge = 2
)

// CreditsCost is the price of one generation of p. It is fixed on the job at
// creation time.
func CreditsCost(p *models.Project) int {
	cost := baseCost
	if p.Mode == models.ModeContext {
		cost -= contextDiscount
	}
	if p.SeedAudio != nil && *p.SeedAudio != "" {
		if p.Lyrics != "" {
			cost += hummingSurcharge
		} else {
			cost += singingSurcharge
		}
	}
	return cost
}
