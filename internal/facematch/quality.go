package facematch

import (
	"math"
)

// QualityReport is the breakdown behind an admission decision.
type QualityReport struct {
	Size       float64
	Centrality float64
	Detector   float64
	Brightness float64
	Sharpness  float64
	Pose       float64
	Overall    float64
	Admitted   bool
	Reason     string // set when rejected outright
}

// QualityWeights must sum to 1.
type QualityWeights struct {
	Size, Centrality, Detector, Brightness, Sharpness, Pose float64
}

// DefaultQualityWeights favours size, centrality and detector confidence.
var DefaultQualityWeights = QualityWeights{
	Size:       0.3,
	Centrality: 0.2,
	Detector:   0.2,
	Brightness: 0.1,
	Sharpness:  0.1,
	Pose:       0.1,
}

// QualityGate scores detections and admits the ones worth identifying.
type QualityGate struct {
	Threshold     float64
	MinFacePx     float64
	MaxFrameRatio float64
	Weights       QualityWeights
}

// NewQualityGate creates a gate with the default weights and an 80% maximum frame ratio.
func NewQualityGate(threshold float64, minFacePx int) *QualityGate {
	return &QualityGate{
		Threshold:     threshold,
		MinFacePx:     float64(minFacePx),
		MaxFrameRatio: 0.8,
		Weights:       DefaultQualityWeights,
	}
}

// Evaluate scores one observation against a frame of the given size.
func (g *QualityGate) Evaluate(face FaceObservation, frameW, frameH int) QualityReport {
	var r QualityReport
	w, h := face.BBox.Width(), face.BBox.Height()
	fw, fh := float64(frameW), float64(frameH)

	switch {
	case w < g.MinFacePx || h < g.MinFacePx:
		r.Reason = "face too small"
		return r
	case fw > 0 && fh > 0 && (w > fw*g.MaxFrameRatio || h > fh*g.MaxFrameRatio):
		r.Reason = "face too large"
		return r
	}

	r.Size = math.Min(1, (w*h)/(100*100))
	r.Centrality = centrality(face.BBox, fw, fh)
	r.Detector = clamp01(face.DetScore)
	r.Brightness = DefaultBrightness
	if face.Brightness != nil {
		r.Brightness = clamp01(*face.Brightness)
	}
	r.Sharpness = sharpness(face.Embedding)
	r.Pose = DefaultPoseScore
	if face.Pose != nil {
		deviation := math.Abs(face.Pose.Yaw) + math.Abs(face.Pose.Pitch) + math.Abs(face.Pose.Roll)
		r.Pose = math.Max(0, 1-deviation/90)
	}

	wt := g.Weights
	r.Overall = wt.Size*r.Size +
		wt.Centrality*r.Centrality +
		wt.Detector*r.Detector +
		wt.Brightness*r.Brightness +
		wt.Sharpness*r.Sharpness +
		wt.Pose*r.Pose
	r.Admitted = r.Overall > g.Threshold
	return r
}

// centrality is 1 at the frame center and 0 in a corner.
func centrality(b BBox, fw, fh float64) float64 {
	if fw <= 0 || fh <= 0 {
		return 0
	}
	cx, cy := b.Center()
	dist := math.Hypot(cx-fw/2, cy-fh/2)
	maxDist := math.Hypot(fw/2, fh/2)
	return clamp01(1 - dist/maxDist)
}

// sharpness uses the embedding variance as a blur proxy.
func sharpness(emb []float32) float64 {
	if len(emb) == 0 {
		return DefaultSharpness
	}
	var mean float64
	for _, v := range emb {
		mean += float64(v)
	}
	mean /= float64(len(emb))
	var variance float64
	for _, v := range emb {
		d := float64(v) - mean
		variance += d * d
	}
	variance /= float64(len(emb))
	return math.Min(1, variance/0.1)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
