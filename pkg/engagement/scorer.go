package engagement

import (
	"errors"
	"fmt"
	"math"

	"github.com/elonfeng/redditmon/pkg/source"
)

// ErrNegativeWeight is returned by Validate for any weight below zero.
var ErrNegativeWeight = errors.New("weight must not be negative")

// Weights configures the engagement formula for one profile.
type Weights struct {
	Upvotes     float64 `json:"upvotes" yaml:"upvotes" db:"w_upvotes"`
	Comments    float64 `json:"comments" yaml:"comments" db:"w_comments"`
	Awards      float64 `json:"awards" yaml:"awards" db:"w_awards"`
	UpvoteRatio float64 `json:"upvote_ratio" yaml:"upvote_ratio" db:"w_upvote_ratio"`
}

// DefaultWeights returns the weights used when a profile has none stored.
func DefaultWeights() Weights {
	return Weights{Upvotes: 1.0, Comments: 2.0, Awards: 5.0, UpvoteRatio: 10.0}
}

// Validate rejects negative weights.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"upvotes":      w.Upvotes,
		"comments":     w.Comments,
		"awards":       w.Awards,
		"upvote_ratio": w.UpvoteRatio,
	} {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("%s = %v: %w", name, v, ErrNegativeWeight)
		}
	}
	return nil
}

// minAgeFactor floors the age penalty at half the base score.
const minAgeFactor = 0.5

// AgeFactor returns the recency multiplier for a post of the given age.
// Posts under a day get a 20% bonus; after three days the factor decays
// slowly with age.
func AgeFactor(ageHours float64) float64 {
	switch {
	case ageHours < 24:
		return 1.2
	case ageHours < 48:
		return 1.1
	case ageHours < 72:
		return 1.0
	}
	return 0.9 - ageHours/1000
}

// Base returns the weighted sum before the age factor is applied.
func Base(p source.Post, w Weights) float64 {
	return float64(p.Score)*w.Upvotes +
		float64(p.NumComments)*w.Comments +
		float64(p.Awards)*w.Awards +
		p.UpvoteRatio*w.UpvoteRatio
}

// Score computes the engagement score of a post, rounded to two decimals.
// Negative upvotes are valid and can yield a negative score.
func Score(p source.Post, w Weights) float64 {
	final := Base(p, w) * math.Max(AgeFactor(p.AgeHours), minAgeFactor)
	return math.Round(final*100) / 100
}

// Apply scores every post in place.
func Apply(posts []source.Post, w Weights) {
	for i := range posts {
		posts[i].EngagementScore = Score(posts[i], w)
	}
}
