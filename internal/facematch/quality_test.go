package facematch

import (
	"math"
	"testing"
)

func TestQualityGate_Evaluate(t *testing.T) {
	gate := NewQualityGate(0.65, 50)
	bright := 0.9

	tests := []struct {
		name        string
		face        FaceObservation
		wantAdmit   bool
		wantOverall float64
		wantReason  string
	}{
		{
			name:        "centered confident face",
			face:        FaceObservation{BBox: BBox{270, 190, 370, 290}, DetScore: 0.9},
			wantAdmit:   true,
			wantOverall: 0.3 + 0.2 + 0.18 + 0.05 + 0.05 + 0.08,
		},
		{
			name:        "explicit brightness and pose",
			face:        FaceObservation{BBox: BBox{270, 190, 370, 290}, DetScore: 0.9, Brightness: &bright, Pose: &Pose{Yaw: 45}},
			wantAdmit:   true,
			wantOverall: 0.3 + 0.2 + 0.18 + 0.09 + 0.05 + 0.05,
		},
		{
			name:      "weak face in corner",
			face:      FaceObservation{BBox: BBox{0, 0, 50, 50}, DetScore: 0.1},
			wantAdmit: false,
		},
		{
			name:       "below minimum size",
			face:       FaceObservation{BBox: BBox{300, 200, 340, 240}, DetScore: 0.99},
			wantAdmit:  false,
			wantReason: "face too small",
		},
		{
			name:       "fills the frame",
			face:       FaceObservation{BBox: BBox{20, 100, 620, 300}, DetScore: 0.99},
			wantAdmit:  false,
			wantReason: "face too large",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gate.Evaluate(tt.face, 640, 480)
			if r.Admitted != tt.wantAdmit {
				t.Errorf("Admitted = %v, want %v (overall %.3f)", r.Admitted, tt.wantAdmit, r.Overall)
			}
			if tt.wantOverall != 0 && math.Abs(r.Overall-tt.wantOverall) > 1e-6 {
				t.Errorf("Overall = %.4f, want %.4f", r.Overall, tt.wantOverall)
			}
			if tt.wantReason != "" {
				if r.Reason != tt.wantReason {
					t.Errorf("Reason = %q, want %q", r.Reason, tt.wantReason)
				}
				if r.Overall != 0 {
					t.Errorf("rejected outright must score 0, got %f", r.Overall)
				}
			}
		})
	}
}

func TestQualityGate_PoseFloorsAtZero(t *testing.T) {
	gate := NewQualityGate(0.65, 50)
	r := gate.Evaluate(FaceObservation{BBox: BBox{270, 190, 370, 290}, DetScore: 1, Pose: &Pose{Yaw: 80, Pitch: 30, Roll: -20}}, 640, 480)
	if r.Pose != 0 {
		t.Errorf("expected pose score 0 for extreme rotation, got %f", r.Pose)
	}
}

func TestSharpness(t *testing.T) {
	if s := sharpness(nil); s != DefaultSharpness {
		t.Errorf("empty embedding should use default, got %f", s)
	}
	flat := make([]float32, 64)
	if s := sharpness(flat); s != 0 {
		t.Errorf("constant embedding should have 0 sharpness, got %f", s)
	}
	spread := []float32{1, -1, 1, -1}
	if s := sharpness(spread); s != 1 {
		t.Errorf("high variance should cap at 1, got %f", s)
	}
}
