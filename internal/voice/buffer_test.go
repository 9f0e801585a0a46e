package voice

import (
	"reflect"
	"testing"
)

func TestBufferAppendDrain(t *testing.T) {
	s := NewBufferStore()
	s.Append(42, []int16{1, 2})
	s.Append(42, []int16{3})

	got := s.Drain(42)
	if !reflect.DeepEqual(got, []int16{1, 2, 3}) {
		t.Fatalf("drained %v", got)
	}
	if s.Len(42) != 0 {
		t.Fatalf("buffer not reset after drain, len %d", s.Len(42))
	}
}

func TestBufferDrainAbsent(t *testing.T) {
	s := NewBufferStore()
	if got := s.Drain(7); got != nil {
		t.Fatalf("expected nil for absent stream, got %v", got)
	}
}

func TestBufferAppendAfterDrainStartsFresh(t *testing.T) {
	s := NewBufferStore()
	s.Append(1, []int16{10, 11})
	first := s.Drain(1)

	s.Append(1, []int16{20})
	second := s.Drain(1)

	if !reflect.DeepEqual(first, []int16{10, 11}) {
		t.Fatalf("first drain %v", first)
	}
	if !reflect.DeepEqual(second, []int16{20}) {
		t.Fatalf("second drain %v", second)
	}
}

func TestBufferNonEmpty(t *testing.T) {
	s := NewBufferStore()
	s.Ensure(1)
	s.Append(2, []int16{5})
	s.Append(3, []int16{6})

	got := s.NonEmpty()
	if len(got) != 2 {
		t.Fatalf("expected 2 non-empty streams, got %v", got)
	}
	for _, ssrc := range got {
		if ssrc != 2 && ssrc != 3 {
			t.Fatalf("unexpected stream %d", ssrc)
		}
	}
}

func TestBufferAppendEmptyNoop(t *testing.T) {
	s := NewBufferStore()
	s.Append(9, nil)
	if got := s.NonEmpty(); len(got) != 0 {
		t.Fatalf("empty append created a buffer: %v", got)
	}
}
