package session

import "testing"

func TestQueueOrder(t *testing.T) {
	q := newQueue(3)
	for i := byte(1); i <= 3; i++ {
		if !q.Push(Frame{Type: Delta, Payload: []byte{i}}) {
			t.Fatalf("push %v fail", i)
		}
	}
	if !q.Full() || q.Len() != 3 {
		t.Fatalf("full %v len %v, want true/3", q.Full(), q.Len())
	}
	if q.Push(Frame{Type: Delta}) {
		t.Fatal("push into a full queue")
	}
	// wrap around
	f, ok := q.Pop()
	if !ok || f.Payload[0] != 1 {
		t.Fatalf("pop %v %v, want frame 1", f, ok)
	}
	if !q.Push(Frame{Type: Delta, Payload: []byte{4}}) {
		t.Fatal("push after pop fail")
	}
	for i, want := range []byte{2, 3, 4} {
		f, ok = q.Pop()
		if !ok || f.Payload[0] != want {
			t.Errorf("pop %v: got %v, want %v", i, f.Payload, want)
		}
	}
	if _, ok = q.Pop(); ok {
		t.Error("pop from an empty queue")
	}
}

func TestQueueClear(t *testing.T) {
	q := newQueue(2)
	q.Push(Frame{Type: Delta})
	q.Push(Frame{Type: Delta})
	q.Clear()
	if q.Len() != 0 || q.Full() {
		t.Errorf("len %v full %v after clear", q.Len(), q.Full())
	}
	if !q.Push(Frame{Type: Delta}) {
		t.Error("push after clear fail")
	}
}
