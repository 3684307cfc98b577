package contour

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContourClass(t *testing.T) {
	tests := []struct {
		v    float64
		want int
	}{
		{5000, 5000},
		{10000, 5000},
		{1000, 1000},
		{500, 500},
		{300, 100},
		{250, 50},
		{40, 20},
		{15, 2},
		{30, 10},
		{7, 2},
		{-40, 20},
		{0, 5000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ContourClass(tt.v), "contour %v", tt.v)
	}
}

func TestMajorIndex(t *testing.T) {
	assert.Equal(t, 1, MajorIndex(10, 2))
	assert.Equal(t, 1, MajorIndex(120, 2))
	assert.Equal(t, 0, MajorIndex(104, 2))
	assert.Equal(t, 1, MajorIndex(25, 5))
	assert.Equal(t, 0, MajorIndex(20, 5))
	assert.Equal(t, 0, MajorIndex(10, 0))
}
