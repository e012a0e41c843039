package scheduler

import (
	"reflect"
	"testing"
)

func TestQueueAddDeduplicates(t *testing.T) {
	q := NewIDQueue("test")
	q.Add(5)
	q.Add(5)
	q.Add(7)
	q.Add(5)

	got := q.Snapshot()
	want := []int64{5, 7}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("snapshot = %v, want %v", got, want)
	}
	if !q.Contains(5) {
		t.Fatal("queue should contain 5")
	}
}

func TestQueueFIFO(t *testing.T) {
	q := NewIDQueue("test")
	for _, id := range []int64{3, 1, 2} {
		q.Add(id)
	}

	if id, ok := q.Peek(); !ok || id != 3 {
		t.Fatalf("peek = %d, %v; want 3, true", id, ok)
	}
	if id, ok := q.Dequeue(); !ok || id != 3 {
		t.Fatalf("dequeue = %d, %v; want 3, true", id, ok)
	}
	if q.Contains(3) {
		t.Fatal("dequeued id should be gone")
	}
	if id, ok := q.Dequeue(); !ok || id != 1 {
		t.Fatalf("dequeue = %d, %v; want 1, true", id, ok)
	}
}

func TestQueueDequeueEmpty(t *testing.T) {
	q := NewIDQueue("test")
	if _, ok := q.Dequeue(); ok {
		t.Fatal("dequeue on empty queue must report absence, not panic or error")
	}
	if _, ok := q.Peek(); ok {
		t.Fatal("peek on empty queue must report absence")
	}
}

func TestQueueRemoveAbsent(t *testing.T) {
	q := NewIDQueue("test")
	q.Add(1)
	q.Remove(99) // no-op
	q.Remove(1)
	if q.Len() != 0 {
		t.Fatalf("len = %d, want 0", q.Len())
	}
}

func TestQueueReplaceDropsDuplicates(t *testing.T) {
	q := NewIDQueue("test")
	q.Add(42)
	q.Replace([]int64{9, 8, 9, 7, 8})

	got := q.Snapshot()
	want := []int64{9, 8, 7}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("snapshot = %v, want %v", got, want)
	}
	if q.Contains(42) {
		t.Fatal("replace must drop prior contents")
	}
}

func TestQueueSortDescending(t *testing.T) {
	q := NewIDQueue("test")
	q.Replace([]int64{5, 100, 7, 99})
	q.SortDescending()

	got := q.Snapshot()
	want := []int64{100, 99, 7, 5}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("snapshot = %v, want %v", got, want)
	}
}

func TestQueueSnapshotIsCopy(t *testing.T) {
	q := NewIDQueue("test")
	q.Add(1)
	snap := q.Snapshot()
	snap[0] = 999
	if id, _ := q.Peek(); id != 1 {
		t.Fatal("mutating a snapshot must not affect the queue")
	}
}
