package attendance

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/facetrack/internal/database"
)

// scriptedSender returns queued errors in order, then succeeds.
type scriptedSender struct {
	mu        sync.Mutex
	errs      []error
	sent      []Event
	calls     int
	refreshes int
}

func (s *scriptedSender) Send(ctx context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return err
		}
	}
	s.sent = append(s.sent, ev)
	return nil
}

func (s *scriptedSender) RefreshToken(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
	return nil
}

func (s *scriptedSender) setErrs(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = errs
}

func (s *scriptedSender) stats() (calls, refreshes, sent int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, s.refreshes, len(s.sent)
}

var (
	errUnavailable = &DeliveryError{Status: 503, Retryable: true}
	errBadRequest  = &DeliveryError{Status: 400}
	errExpired     = &DeliveryError{Status: 401, Err: ErrUnauthorized}
)

func testDelivery(t *testing.T, sender Sender) (*Delivery, *FallbackLog) {
	t.Helper()
	fb := NewFallbackLog(filepath.Join(t.TempDir(), "fallback.jsonl"))
	d := NewDelivery(sender, fb, nil, DeliveryConfig{
		QueueSize:     4,
		MaxAttempts:   3,
		BaseBackoff:   time.Millisecond,
		DrainTimeout:  time.Second,
		RatePerSecond: -1,
	})
	return d, fb
}

func TestDelivery_Deliver(t *testing.T) {
	tests := []struct {
		name          string
		errs          []error
		wantErr       bool
		wantCalls     int
		wantRefreshes int
	}{
		{"first attempt", nil, false, 1, 0},
		{"retry then success", []error{errUnavailable, errUnavailable}, false, 3, 0},
		{"exhausted", []error{errUnavailable, errUnavailable, errUnavailable}, true, 3, 0},
		{"terminal", []error{errBadRequest}, true, 1, 0},
		{"401 refreshes once", []error{errExpired}, false, 2, 1},
		{"401 twice", []error{errExpired, errExpired}, true, 2, 1},
		{"401 does not use up attempts", []error{errUnavailable, errExpired, errUnavailable}, false, 4, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &scriptedSender{}
			s.setErrs(tt.errs...)
			d, _ := testDelivery(t, s)

			err := d.Deliver(context.Background(), NewEvent("E1", database.EventCheckIn, "entry", time.Now()))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Deliver err = %v, wantErr %v", err, tt.wantErr)
			}
			calls, refreshes, _ := s.stats()
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if refreshes != tt.wantRefreshes {
				t.Errorf("refreshes = %d, want %d", refreshes, tt.wantRefreshes)
			}
		})
	}
}

func TestDelivery_FailedEventReachesFallbackAndSweepRemovesIt(t *testing.T) {
	s := &scriptedSender{}
	s.setErrs(errUnavailable, errUnavailable, errUnavailable)
	d, fb := testDelivery(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	at := time.Date(2026, 2, 3, 7, 59, 0, 0, time.UTC)
	ev := NewEvent("E7", database.EventCheckIn, "entry", at)
	if !d.Enqueue(ev) {
		t.Fatal("Enqueue rejected event")
	}

	var entries []Event
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		entries, _ = fb.Entries()
		if len(entries) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if len(entries) != 1 {
		t.Fatalf("fallback entries = %d, want 1", len(entries))
	}
	got := entries[0]
	if got.EmployeeID != "E7" || got.Type != database.EventCheckIn || !got.Timestamp.Equal(at) || got.ID != ev.ID {
		t.Errorf("fallback entry = %+v, want %+v", got, ev)
	}

	// a failing sweep keeps the entry
	s.setErrs(errBadRequest)
	delivered, remaining, err := d.Sweep(context.Background())
	if err != nil || delivered != 0 || remaining != 1 {
		t.Fatalf("failing sweep = (%d, %d, %v), want (0, 1, nil)", delivered, remaining, err)
	}
	if entries, _ = fb.Entries(); len(entries) != 1 {
		t.Fatalf("entry removed by failed sweep")
	}

	delivered, remaining, err = d.Sweep(context.Background())
	if err != nil || delivered != 1 || remaining != 0 {
		t.Fatalf("sweep = (%d, %d, %v), want (1, 0, nil)", delivered, remaining, err)
	}
	if entries, _ = fb.Entries(); len(entries) != 0 {
		t.Errorf("fallback entries after sweep = %d, want 0", len(entries))
	}
	if !s.sent[len(s.sent)-1].Timestamp.Equal(at) {
		t.Error("redelivery must keep the original timestamp")
	}
}

func TestDelivery_FullQueueGoesToFallback(t *testing.T) {
	d, fb := testDelivery(t, &scriptedSender{})
	for i := 0; i < 4; i++ {
		if !d.Enqueue(NewEvent("E1", database.EventCheckIn, "entry", time.Now())) {
			t.Fatalf("Enqueue %d rejected", i)
		}
	}
	if d.Enqueue(NewEvent("E2", database.EventCheckIn, "entry", time.Now())) {
		t.Fatal("Enqueue on a full queue should report false")
	}
	entries, err := fb.Entries()
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	if len(entries) != 1 || entries[0].EmployeeID != "E2" {
		t.Errorf("fallback = %+v, want the overflowing E2 event", entries)
	}
}

func TestDelivery_DrainOnShutdown(t *testing.T) {
	s := &scriptedSender{}
	d, fb := testDelivery(t, s)
	for i := 0; i < 3; i++ {
		d.Enqueue(NewEvent("E1", database.EventCheckIn, "entry", time.Now()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx)

	if _, _, sent := s.stats(); sent != 3 {
		t.Errorf("sent = %d, want 3 drained events", sent)
	}
	if d.Pending() != 0 {
		t.Errorf("pending = %d after drain", d.Pending())
	}

	// after shutdown events bypass the queue
	if d.Enqueue(NewEvent("E9", database.EventCheckOut, "exit", time.Now())) {
		t.Error("Enqueue after shutdown should report false")
	}
	entries, _ := fb.Entries()
	if len(entries) != 1 || entries[0].EmployeeID != "E9" {
		t.Errorf("fallback = %+v, want E9", entries)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{errUnavailable, true},
		{errBadRequest, false},
		{errExpired, false},
		{errors.New("plain"), false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
