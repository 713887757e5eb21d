package queue

import (
	"testing"
	"time"

	"github.com/tutu-network/tutu/internal/domain"
)

func TestBatchQueue_PushPop(t *testing.T) {
	q := NewBatchQueue()
	q.Push(&domain.Task{ID: "1"})
	q.Push(&domain.Task{ID: "2"})

	batch := q.Pop(10, 10*time.Millisecond)
	if len(batch) != 2 {
		t.Fatalf("len(batch) = %d, want 2", len(batch))
	}
}

func TestBatchQueue_PopRespectsMaxBatch(t *testing.T) {
	q := NewBatchQueue()
	for i := 0; i < 5; i++ {
		q.Push(&domain.Task{ID: string(rune('a' + i))})
	}

	batch := q.Pop(2, 10*time.Millisecond)
	if len(batch) != 2 {
		t.Fatalf("len(batch) = %d, want 2", len(batch))
	}
	if q.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", q.Len())
	}
}

func TestBatchQueue_PopTimesOutWhenEmpty(t *testing.T) {
	q := NewBatchQueue()
	start := time.Now()
	batch := q.Pop(4, 20*time.Millisecond)
	if batch != nil {
		t.Fatalf("batch = %v, want nil", batch)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("Pop returned before timeout elapsed")
	}
}

func TestBatchQueue_DropsExpiredTasks(t *testing.T) {
	q := NewBatchQueue()
	q.Push(&domain.Task{ID: "expired", Deadline: time.Now().Add(-time.Second)})
	q.Push(&domain.Task{ID: "live", Deadline: time.Now().Add(time.Hour)})

	batch := q.Pop(10, 10*time.Millisecond)
	if len(batch) != 1 || batch[0].ID != "live" {
		t.Fatalf("batch = %+v, want only 'live'", batch)
	}
	if q.DropRate() <= 0 {
		t.Error("DropRate() should be > 0 after a drop")
	}
}

func TestRateMeter_ConvergesUnderSteadyLoad(t *testing.T) {
	fakeNow := time.Now()
	m := newRateMeter(func() time.Time { return fakeNow })

	const rps = 100
	for window := 0; window < 5; window++ {
		for i := 0; i < rps; i++ {
			m.Record()
		}
		fakeNow = fakeNow.Add(meterWindow)
	}

	got := m.Rate()
	if got < rps*0.9 || got > rps*1.1 {
		t.Errorf("Rate() = %v after 5 windows, want within 10%% of %v", got, rps)
	}
}
