package tokenizer

import (
	"testing"

	"github.com/hannes/groundtag/processor"
)

func TestPadTarget(t *testing.T) {
	testCases := []struct {
		name      string
		opts      processor.TokenizeOptions
		longest   int
		expected  int
		expectErr bool
	}{
		{
			name:     "no padding",
			opts:     processor.TokenizeOptions{},
			longest:  7,
			expected: 0,
		},
		{
			name:     "longest",
			opts:     processor.TokenizeOptions{Padding: processor.PaddingLongest},
			longest:  7,
			expected: 7,
		},
		{
			name:     "max length",
			opts:     processor.TokenizeOptions{Padding: processor.PaddingMaxLength, MaxLength: 16},
			longest:  7,
			expected: 16,
		},
		{
			name:      "max length without a length",
			opts:      processor.TokenizeOptions{Padding: processor.PaddingMaxLength},
			longest:   7,
			expectErr: true,
		},
		{
			name:     "pad to multiple of",
			opts:     processor.TokenizeOptions{Padding: processor.PaddingLongest, PadToMultipleOf: 8},
			longest:  7,
			expected: 8,
		},
		{
			name:     "already a multiple",
			opts:     processor.TokenizeOptions{Padding: processor.PaddingLongest, PadToMultipleOf: 8},
			longest:  16,
			expected: 16,
		},
		{
			name:      "unknown strategy",
			opts:      processor.TokenizeOptions{Padding: "weird"},
			longest:   7,
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := padTarget(tc.opts, tc.longest)
			if tc.expectErr {
				if err == nil {
					t.Errorf("Expected an error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if got != tc.expected {
				t.Errorf("Expected target %d, got %d", tc.expected, got)
			}
		})
	}
}

func TestPadSequence(t *testing.T) {
	seq := []int64{5, 6, 7}

	right := padSequence(append([]int64(nil), seq...), 1, 2, false)
	expectedRight := []int64{5, 6, 7, 1, 1}
	for i := range expectedRight {
		if right[i] != expectedRight[i] {
			t.Fatalf("Expected %v, got %v", expectedRight, right)
		}
	}

	left := padSequence(append([]int64(nil), seq...), 1, 2, true)
	expectedLeft := []int64{1, 1, 5, 6, 7}
	for i := range expectedLeft {
		if left[i] != expectedLeft[i] {
			t.Fatalf("Expected %v, got %v", expectedLeft, left)
		}
	}
}
