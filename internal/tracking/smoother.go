package tracking

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Process and measurement noise of the position filter.
const (
	processNoise     = 0.1
	measurementNoise = 0.1
)

// PositionSmoother is a constant-velocity Kalman filter over a 2D point.
// State is (x, y, vx, vy), the measurement is (x, y), one step per update.
type PositionSmoother struct {
	x *mat.VecDense // state
	p *mat.Dense    // state covariance
	f *mat.Dense    // transition
	h *mat.Dense    // measurement
	q *mat.Dense    // process noise
	r *mat.Dense    // measurement noise

	initialized bool
}

// NewPositionSmoother creates an uninitialized filter.
func NewPositionSmoother() *PositionSmoother {
	return &PositionSmoother{
		x: mat.NewVecDense(4, nil),
		p: eye(4, 1),
		f: mat.NewDense(4, 4, []float64{
			1, 0, 1, 0,
			0, 1, 0, 1,
			0, 0, 1, 0,
			0, 0, 0, 1,
		}),
		h: mat.NewDense(2, 4, []float64{
			1, 0, 0, 0,
			0, 1, 0, 0,
		}),
		q: eye(4, processNoise),
		r: eye(2, measurementNoise),
	}
}

func eye(n int, v float64) *mat.Dense {
	d := mat.NewDense(n, n, nil)
	for i := range n {
		d.Set(i, i, v)
	}
	return d
}

// Update feeds one measured center and returns the corrected position. The
// first measurement seeds the state and is returned as is.
func (s *PositionSmoother) Update(px, py float64) (float64, float64) {
	if !s.initialized {
		s.x.SetVec(0, px)
		s.x.SetVec(1, py)
		s.x.SetVec(2, 0)
		s.x.SetVec(3, 0)
		s.initialized = true
		return px, py
	}

	// predict: x = F x, P = F P F' + Q
	var xPred mat.VecDense
	xPred.MulVec(s.f, s.x)
	var fp, pPred mat.Dense
	fp.Mul(s.f, s.p)
	pPred.Mul(&fp, s.f.T())
	pPred.Add(&pPred, s.q)

	// innovation: y = z - H x, S = H P H' + R
	z := mat.NewVecDense(2, []float64{px, py})
	var hx, y mat.VecDense
	hx.MulVec(s.h, &xPred)
	y.SubVec(z, &hx)

	var hp, sm mat.Dense
	hp.Mul(s.h, &pPred)
	sm.Mul(&hp, s.h.T())
	sm.Add(&sm, s.r)

	var sInv mat.Dense
	if err := sInv.Inverse(&sm); err != nil {
		// singular innovation covariance: fall back to the prediction
		s.x.CopyVec(&xPred)
		s.p.Copy(&pPred)
		return s.x.AtVec(0), s.x.AtVec(1)
	}

	// gain: K = P H' S^-1
	var pht, k mat.Dense
	pht.Mul(&pPred, s.h.T())
	k.Mul(&pht, &sInv)

	// correct: x = x + K y, P = (I - K H) P
	var ky mat.VecDense
	ky.MulVec(&k, &y)
	s.x.AddVec(&xPred, &ky)

	var kh, ikh mat.Dense
	kh.Mul(&k, s.h)
	ikh.Sub(eye(4, 1), &kh)
	s.p.Mul(&ikh, &pPred)

	return s.x.AtVec(0), s.x.AtVec(1)
}

// Velocity returns the current velocity estimate in units per update.
func (s *PositionSmoother) Velocity() (float64, float64) {
	return s.x.AtVec(2), s.x.AtVec(3)
}

type smootherKey struct {
	identity string
	camera   string
}

type trackedSmoother struct {
	filter   *PositionSmoother
	lastSeen time.Time
}

// SmootherSet holds one lazily created filter per identity and camera.
// Coordinates of different cameras are not comparable, so each camera gets
// its own filter. A filter not updated for staleAfter is re-seeded.
type SmootherSet struct {
	mu         sync.Mutex
	smoothers  map[smootherKey]*trackedSmoother
	staleAfter time.Duration
}

func NewSmootherSet(staleAfter time.Duration) *SmootherSet {
	return &SmootherSet{
		smoothers:  make(map[smootherKey]*trackedSmoother),
		staleAfter: staleAfter,
	}
}

// Update routes a measurement to the filter of (identity, camera).
func (s *SmootherSet) Update(identity, camera string, px, py float64, now time.Time) (float64, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := smootherKey{identity: identity, camera: camera}
	ts, ok := s.smoothers[key]
	if !ok || (s.staleAfter > 0 && now.Sub(ts.lastSeen) > s.staleAfter) {
		ts = &trackedSmoother{filter: NewPositionSmoother()}
		s.smoothers[key] = ts
	}
	ts.lastSeen = now
	return ts.filter.Update(px, py)
}

// Forget drops the filters of an identity.
func (s *SmootherSet) Forget(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.smoothers {
		if k.identity == identity {
			delete(s.smoothers, k)
		}
	}
}

// Len returns the number of live filters.
func (s *SmootherSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.smoothers)
}
