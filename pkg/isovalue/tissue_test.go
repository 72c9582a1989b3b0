package isovalue

import (
	"context"
	"testing"

	"slicesurf/pkg/phantom"
	"slicesurf/pkg/volume"
)

func TestParseTissue(t *testing.T) {
	testCases := []struct {
		name     string
		expected Tissue
		wantErr  bool
	}{
		{"", Auto, false},
		{"auto", Auto, false},
		{"Bone", Bone, false},
		{" skin ", Skin, false},
		{"brain", Brain, false},
		{"soft-tissue", SoftTissue, false},
		{"soft_tissue", SoftTissue, false},
		{"soft", SoftTissue, false},
		{"liver", Auto, true},
	}
	for _, tc := range testCases {
		got, err := ParseTissue(tc.name)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseTissue(%q): unexpected error state %v", tc.name, err)
			continue
		}
		if got != tc.expected {
			t.Errorf("ParseTissue(%q): expected %v, got %v", tc.name, tc.expected, got)
		}
	}
}

func TestForTissueWindow(t *testing.T) {
	v, err := phantom.Box([3]int{8, 8, 8}, [3]int{2, 2, 2}, [3]int{6, 6, 6}, 1000, 0,
		phantom.WithWindow(400, 200))
	if err != nil {
		t.Fatalf("Box failed: %v", err)
	}
	a := NewAdvisor(nil)

	testCases := []struct {
		tissue   Tissue
		expected float64
	}{
		{Skin, 300},
		{Bone, 450},
		{Brain, 400},
		{SoftTissue, 400},
		{Auto, 400},
	}
	for _, tc := range testCases {
		got, err := a.ForTissue(context.Background(), v, tc.tissue)
		if err != nil {
			t.Fatalf("ForTissue(%v) failed: %v", tc.tissue, err)
		}
		if got != tc.expected {
			t.Errorf("ForTissue(%v): expected %f, got %f", tc.tissue, tc.expected, got)
		}
	}
}

func TestForTissueCTDefaults(t *testing.T) {
	v := ctVolume(t, func(x, y, z int) int { return 10 * x })
	a := NewAdvisor(nil)

	testCases := []struct {
		tissue   Tissue
		expected float64
	}{
		{Skin, -300},
		{Bone, 300},
		{Brain, 30},
		{SoftTissue, 40},
	}
	for _, tc := range testCases {
		got, err := a.ForTissue(context.Background(), v, tc.tissue)
		if err != nil {
			t.Fatalf("ForTissue(%v) failed: %v", tc.tissue, err)
		}
		if got != tc.expected {
			t.Errorf("ForTissue(%v): expected %f, got %f", tc.tissue, tc.expected, got)
		}
	}
}

func TestForTissueMRI(t *testing.T) {
	v, err := phantom.Func([3]int{10, 10, 10}, func(x, y, z int) int { return 1000 })
	if err != nil {
		t.Fatalf("Func failed: %v", err)
	}
	a := NewAdvisor(nil)

	bone, err := a.ForTissue(context.Background(), v, Bone)
	if err != nil {
		t.Fatalf("ForTissue failed: %v", err)
	}
	if bone != 600 {
		t.Errorf("Expected 0.6 of P95, got %f", bone)
	}

	suggestions, err := a.Suggest(context.Background(), v, 0, false)
	if err != nil {
		t.Fatalf("Suggest failed: %v", err)
	}
	auto, err := a.ForTissue(context.Background(), v, Auto)
	if err != nil {
		t.Fatalf("ForTissue failed: %v", err)
	}
	if auto != suggestions[0] {
		t.Errorf("Auto should use the first suggestion %f, got %f", suggestions[0], auto)
	}

	empty, err := a.ForTissue(context.Background(), volume.Empty(v.Spacing()), Auto)
	if err != nil || empty != 0 {
		t.Errorf("Empty volume: expected 0, got %f (%v)", empty, err)
	}
}
