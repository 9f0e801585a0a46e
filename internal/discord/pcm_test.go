package discord

import (
	"reflect"
	"testing"
)

func TestConformPCMPassthrough(t *testing.T) {
	in := []int16{1, 2, 3, 4}
	out, err := ConformPCM(in, 2, 48000, 2, 48000)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Fatalf("got %v", out)
	}
}

func TestConformPCMMonoToStereoUpsample(t *testing.T) {
	// 24 kHz mono speech into a 48 kHz stereo transport: each sample becomes
	// a stereo pair repeated twice.
	out, err := ConformPCM([]int16{10, 20}, 1, 24000, 2, 48000)
	if err != nil {
		t.Fatal(err)
	}
	want := []int16{10, 10, 10, 10, 20, 20, 20, 20}
	if !reflect.DeepEqual(out, want) {
		t.Fatalf("got %v, want %v", out, want)
	}
}

func TestConformPCMStereoToMonoDownsample(t *testing.T) {
	// 48 kHz stereo down to 24 kHz mono keeps every other averaged frame.
	out, err := ConformPCM([]int16{10, 30, 100, 100, 40, 60, 100, 100}, 2, 48000, 1, 24000)
	if err != nil {
		t.Fatal(err)
	}
	want := []int16{20, 50}
	if !reflect.DeepEqual(out, want) {
		t.Fatalf("got %v, want %v", out, want)
	}
}

func TestConformPCMRejectsNonIntegerRatio(t *testing.T) {
	if _, err := ConformPCM([]int16{1}, 1, 44100, 1, 48000); err == nil {
		t.Fatal("expected error for 44100 -> 48000")
	}
}
