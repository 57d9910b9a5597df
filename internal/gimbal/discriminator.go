package gimbal

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/osprey-dynamics/sightline/internal/filter"
)

// Discriminator tuning constants. Sizes are in pixels; areas derive from
// the squared bounds.
const (
	minTargetSize = 20
	maxTargetSize = 500

	minAspectRatio = 0.3
	maxAspectRatio = 3.0

	// stabilityFrames is how many history samples a candidate needs
	// before positional stability is scored instead of assumed.
	stabilityFrames = 3

	// stabilityDeviationPx normalises the mean radial deviation; at or
	// beyond this the stability score bottoms out.
	stabilityDeviationPx = 50.0
)

// Score weights. They sum to 1 so the total stays in [0, 1].
const (
	weightSize       = 0.20
	weightAspect     = 0.15
	weightPosition   = 0.15
	weightStability  = 0.25
	weightMotion     = 0.15
	weightConfidence = 0.10
)

const (
	maxHistoryBuckets = 32
	maxHistorySamples = 5
	maxCachedScores   = 32
)

// historyBucket is the bounded ring of recent centre positions for one
// spatially bucketed candidate.
type historyBucket struct {
	hash int
	xs   []int
	ys   []int
}

// Discriminator scores candidate rectangles against size, aspect,
// screen-position, short-term stability and motion-continuity heuristics.
// Stability is tracked per spatial bucket across calls; everything else is
// stateless per evaluation.
//
// Not safe for concurrent use.
type Discriminator struct {
	history []*historyBucket

	// scores caches the last batch of evaluations for inspection. It is
	// reset per EvaluateMultiple call; history is not.
	scores []TargetScore
}

// NewDiscriminator returns an empty discriminator.
func NewDiscriminator() *Discriminator {
	return &Discriminator{
		history: make([]*historyBucket, 0, maxHistoryBuckets),
		scores:  make([]TargetScore, 0, maxCachedScores),
	}
}

// rectHash quantizes a rectangle to a 20px grid cell plus a size band so
// that a jittering candidate maps to the same history bucket across frames.
func rectHash(x, y, w, h int) int {
	return (x/20)*1000000 + (y/20)*1000 + (w+h)/10
}

// bucket finds the history bucket for hash, creating one if room remains
// and recycling the oldest bucket otherwise.
func (d *Discriminator) bucket(hash int) *historyBucket {
	for _, b := range d.history {
		if b.hash == hash {
			return b
		}
	}
	if len(d.history) < maxHistoryBuckets {
		b := &historyBucket{
			hash: hash,
			xs:   make([]int, 0, maxHistorySamples),
			ys:   make([]int, 0, maxHistorySamples),
		}
		d.history = append(d.history, b)
		return b
	}
	// Full: reuse the oldest bucket for the new candidate.
	b := d.history[0]
	b.hash = hash
	b.xs = b.xs[:0]
	b.ys = b.ys[:0]
	return b
}

func (b *historyBucket) add(x, y int) {
	if len(b.xs) >= maxHistorySamples {
		copy(b.xs, b.xs[1:])
		copy(b.ys, b.ys[1:])
		b.xs = b.xs[:maxHistorySamples-1]
		b.ys = b.ys[:maxHistorySamples-1]
	}
	b.xs = append(b.xs, x)
	b.ys = append(b.ys, y)
}

// meanRadialDeviation is the mean distance of the bucket's samples from
// their mean centre.
func (b *historyBucket) meanRadialDeviation() float64 {
	fx := make([]float64, len(b.xs))
	fy := make([]float64, len(b.ys))
	for i := range b.xs {
		fx[i] = float64(b.xs[i])
		fy[i] = float64(b.ys[i])
	}
	meanX := stat.Mean(fx, nil)
	meanY := stat.Mean(fy, nil)

	var dev float64
	for i := range fx {
		dev += math.Hypot(fx[i]-meanX, fy[i]-meanY)
	}
	return dev / float64(len(fx))
}

// Evaluate scores one candidate and records its centre in the matching
// history bucket. last is the previously confirmed target, or nil when no
// target has been confirmed yet. The returned total is in [0, 1].
func (d *Discriminator) Evaluate(rect Detection, last *Detection, imageWidth, imageHeight int) TargetScore {
	area := rect.W * rect.H

	// Size: triangular preference peaking at the midpoint between the
	// area bounds. Too small is noise (0), too large fills the frame and
	// is penalised rather than rejected (0.3).
	var sizeScore float64
	minArea := minTargetSize * minTargetSize
	maxArea := maxTargetSize * maxTargetSize
	switch {
	case area < minArea:
		sizeScore = 0.0
	case area > maxArea:
		sizeScore = 0.3
	default:
		normalized := float64(area-minArea) / float64(maxArea-minArea)
		sizeScore = 1.0 - math.Abs(normalized-0.5)*2.0
	}

	// Aspect: square-ish targets score best.
	aspect := 1.0
	if rect.H > 0 {
		aspect = float64(rect.W) / float64(rect.H)
	}
	var aspectScore float64
	switch {
	case aspect < minAspectRatio || aspect > maxAspectRatio:
		aspectScore = 0.2
	case aspect >= 0.8 && aspect <= 1.2:
		aspectScore = 1.0
	default:
		aspectScore = 0.7
	}

	// Position: linear falloff from the image centre.
	dx := float64(rect.CenterX - imageWidth/2)
	dy := float64(rect.CenterY - imageHeight/2)
	centerDist := math.Hypot(dx, dy)
	maxDist := math.Hypot(float64(imageWidth/2), float64(imageHeight/2))
	positionScore := clamp01(1.0 - centerDist/maxDist)

	// Stability: once the bucket has enough samples, score the mean
	// radial deviation of its recent centres; before that assume poor.
	b := d.bucket(rectHash(rect.CenterX, rect.CenterY, rect.W, rect.H))
	b.add(rect.CenterX, rect.CenterY)

	stabilityScore := 0.3
	if len(b.xs) >= stabilityFrames {
		stabilityScore = 1.0 - clamp01(b.meanRadialDeviation()/stabilityDeviationPx)
	}

	// Motion continuity: candidates near the last confirmed target score
	// higher, normalised by a quarter of the image diagonal.
	motionScore := 0.5
	if last != nil {
		dist := math.Hypot(
			float64(rect.CenterX-last.CenterX),
			float64(rect.CenterY-last.CenterY),
		)
		maxMotion := math.Hypot(float64(imageWidth/4), float64(imageHeight/4))
		motionScore = clamp01(1.0 - dist/maxMotion)
	}

	// Detector confidence is not plumbed through yet; a fixed placeholder
	// keeps the weight slot occupied.
	confidence := 0.8

	score := TargetScore{
		Detection:  rect,
		Size:       sizeScore,
		Aspect:     aspectScore,
		Position:   positionScore,
		Stability:  stabilityScore,
		Motion:     motionScore,
		Confidence: confidence,
		Total: sizeScore*weightSize +
			aspectScore*weightAspect +
			positionScore*weightPosition +
			stabilityScore*weightStability +
			motionScore*weightMotion +
			confidence*weightConfidence,
	}

	if len(d.scores) < maxCachedScores {
		d.scores = append(d.scores, score)
	}
	return score
}

// EvaluateMultiple scores a detection batch, resetting the per-call score
// cache but preserving cross-call position history.
func (d *Discriminator) EvaluateMultiple(rects []Detection, last *Detection, imageWidth, imageHeight int) []float64 {
	d.scores = d.scores[:0]

	totals := make([]float64, len(rects))
	for i, r := range rects {
		totals[i] = d.Evaluate(r, last, imageWidth, imageHeight).Total
	}
	return totals
}

// Score returns the cached detailed score for the given index of the last
// evaluated batch, or false when out of range.
func (d *Discriminator) Score(index int) (TargetScore, bool) {
	if index < 0 || index >= len(d.scores) {
		return TargetScore{}, false
	}
	return d.scores[index], true
}

// SelectBest returns the index of the highest score strictly above
// minScore, or -1 when no candidate clears the bar.
func (d *Discriminator) SelectBest(scores []float64, minScore float64) int {
	best := -1
	bestScore := minScore
	for i, s := range scores {
		if s > bestScore {
			bestScore = s
			best = i
		}
	}
	return best
}

// FilterWeak returns the indices of scores at or above minScore.
func (d *Discriminator) FilterWeak(scores []float64, minScore float64) []int {
	valid := make([]int, 0, len(scores))
	for i, s := range scores {
		if s >= minScore {
			valid = append(valid, i)
		}
	}
	return valid
}

// Reset clears the position history and score cache.
func (d *Discriminator) Reset() {
	d.history = d.history[:0]
	d.scores = d.scores[:0]
}

func clamp01(v float64) float64 {
	return filter.Clamp(v, 0, 1)
}
