package matcher

import (
	"math"
	"sort"

	"github.com/your-org/fpv/internal/models"
)

const (
	distTolerance  = 12.0
	angleTolerance = 20
	maxAnchors     = 24
)

// compare aligns b onto a using every same-type anchor pair and returns the
// best share of paired minutiae, scaled to [0, 100].
func compare(a, b []Minutia) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	used := make([]bool, len(b))
	best := 0
	for i := 0; i < len(a) && i < maxAnchors; i++ {
		for j := 0; j < len(b) && j < maxAnchors; j++ {
			if a[i].Type != b[j].Type {
				continue
			}
			if n := pairCount(a, b, a[i], b[j], used); n > best {
				best = n
			}
		}
	}
	return clampScore(100 * 2 * float64(best) / float64(len(a)+len(b)))
}

func pairCount(a, b []Minutia, anchorA, anchorB Minutia, used []bool) int {
	for k := range used {
		used[k] = false
	}

	rot := anchorA.Direction - anchorB.Direction
	theta := float64(rot) * math.Pi / 180
	cos, sin := math.Cos(theta), math.Sin(theta)

	n := 0
	for _, ma := range a {
		bestJ, bestD := -1, distTolerance*distTolerance+1e-9
		for j, mb := range b {
			if used[j] || mb.Type != ma.Type {
				continue
			}
			dx, dy := float64(mb.X-anchorB.X), float64(mb.Y-anchorB.Y)
			tx := float64(anchorA.X) + dx*cos - dy*sin
			ty := float64(anchorA.Y) + dx*sin + dy*cos
			d := (tx-float64(ma.X))*(tx-float64(ma.X)) + (ty-float64(ma.Y))*(ty-float64(ma.Y))
			if d >= bestD || angleDiff(mb.Direction+rot, ma.Direction) > angleTolerance {
				continue
			}
			bestJ, bestD = j, d
		}
		if bestJ >= 0 {
			used[bestJ] = true
			n++
		}
	}
	return n
}

func angleDiff(a, b int) int {
	d := normalizeAngle(a - b)
	if d > 180 {
		d = 360 - d
	}
	return d
}

func clampScore(s float64) float64 {
	if math.IsNaN(s) || s < 0 {
		return 0
	}
	return math.Min(s, 100)
}

// sortScored orders ascending by score. Equal scores order by descending
// candidate id, so the last element is the lowest id among the best.
func sortScored(s []models.ScoredCandidate) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].Score != s[j].Score {
			return s[i].Score < s[j].Score
		}
		return s[i].Candidate.ID > s[j].Candidate.ID
	})
}
