package queue

import "testing"

func TestListPushBackOrder(t *testing.T) {
	l := NewList[int]()
	l.PushBack(1)
	l.PushBack(2)
	l.PushBack(3)

	var got []int
	for e := l.Front(); e != nil; e = e.Next() {
		got = append(got, e.Value)
	}
	want := []int{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %d, want %d", i, got[i], want[i])
		}
	}
	if l.Len() != 3 {
		t.Errorf("Len() = %d, want 3", l.Len())
	}
}

func TestListPushFront(t *testing.T) {
	l := NewList[string]()
	l.PushBack("b")
	l.PushFront("a")
	l.PushBack("c")

	got := []string{}
	for e := l.Front(); e != nil; e = e.Next() {
		got = append(got, e.Value)
	}
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestListRemove(t *testing.T) {
	l := NewList[int]()
	e1 := l.PushBack(1)
	e2 := l.PushBack(2)
	e3 := l.PushBack(3)

	if v := l.Remove(e2); v != 2 {
		t.Fatalf("Remove(e2) = %d, want 2", v)
	}
	if l.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", l.Len())
	}

	var got []int
	for e := l.Front(); e != nil; e = e.Next() {
		got = append(got, e.Value)
	}
	if len(got) != 2 || got[0] != e1.Value || got[1] != e3.Value {
		t.Fatalf("remaining elements = %v, want [1 3]", got)
	}
}

func TestListMoveToBack(t *testing.T) {
	l := NewList[int]()
	e1 := l.PushBack(1)
	l.PushBack(2)
	l.PushBack(3)

	l.MoveToBack(e1)
	if l.Len() != 3 {
		t.Fatalf("Len() = %d, want 3 after MoveToBack", l.Len())
	}

	var got []int
	for e := l.Front(); e != nil; e = e.Next() {
		got = append(got, e.Value)
	}
	want := []int{2, 3, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestListMoveToBackAlreadyLast(t *testing.T) {
	l := NewList[int]()
	l.PushBack(1)
	e2 := l.PushBack(2)

	l.MoveToBack(e2)
	if l.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", l.Len())
	}
}

func TestListEmptyFront(t *testing.T) {
	l := NewList[int]()
	if e := l.Front(); e != nil {
		t.Fatalf("Front() on empty list = %v, want nil", e)
	}
	if l.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", l.Len())
	}
}
