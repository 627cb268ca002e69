package detector

import (
	"image"
	"testing"

	pigo "github.com/esimov/pigo/core"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestMirrorRects(t *testing.T) {
	tests := []struct {
		name string
		in   image.Rectangle
		want image.Rectangle
	}{
		{"touching left edge", image.Rect(0, 10, 20, 30), image.Rect(80, 10, 100, 30)},
		{"touching right edge", image.Rect(80, 5, 100, 25), image.Rect(0, 5, 20, 25)},
		{"full width", image.Rect(0, 0, 100, 50), image.Rect(0, 0, 100, 50)},
		{"off centre", image.Rect(10, 40, 35, 60), image.Rect(65, 40, 90, 60)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mirrorRects([]image.Rectangle{tt.in}, 100)
			require.Equal(t, []image.Rectangle{tt.want}, got)
			require.Equal(t, []image.Rectangle{tt.in}, mirrorRects(got, 100))
		})
	}
	require.Empty(t, mirrorRects(nil, 100))
}

func TestMirrorRectsMatchesFlip(t *testing.T) {
	grey := gocv.NewMatWithSize(20, 100, gocv.MatTypeCV8U)
	defer grey.Close()
	patch := image.Rect(5, 4, 15, 12)
	for y := patch.Min.Y; y < patch.Max.Y; y++ {
		for x := patch.Min.X; x < patch.Max.X; x++ {
			grey.SetUCharAt(y, x, 255)
		}
	}

	flipped := gocv.NewMat()
	defer flipped.Close()
	require.NoError(t, gocv.Flip(grey, &flipped, 1))

	// where the patch shows up on the flipped frame
	found := image.Rectangle{}
	for y := 0; y < flipped.Rows(); y++ {
		for x := 0; x < flipped.Cols(); x++ {
			if flipped.GetUCharAt(y, x) == 255 {
				found = found.Union(image.Rect(x, y, x+1, y+1))
			}
		}
	}
	require.Equal(t, image.Rect(85, 4, 95, 12), found)
	require.Equal(t, []image.Rectangle{patch}, mirrorRects([]image.Rectangle{found}, grey.Cols()))
}

func TestPigoRects(t *testing.T) {
	dets := []pigo.Detection{
		{Row: 50, Col: 40, Scale: 20, Q: 9},
		{Row: 10, Col: 10, Scale: 30, Q: 2},
		{Row: 5, Col: 3, Scale: 10, Q: 5},
	}

	got := pigoRects(dets, 5)
	require.Equal(t, []image.Rectangle{
		image.Rect(30, 40, 50, 60),
		image.Rect(-2, 0, 8, 10),
	}, got)

	require.Len(t, pigoRects(dets, 0), 3)
	require.Empty(t, pigoRects(dets, 10))
}
