package fingerprint

import (
	"encoding/json"
	"image"
	"image/color"
	"testing"
)

func solidImage(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func checkerImage(w, h, cell int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if ((x/cell)+(y/cell))%2 == 0 {
				img.SetNRGBA(x, y, color.NRGBA{R: 230, G: 200, B: 180, A: 255})
			} else {
				img.SetNRGBA(x, y, color.NRGBA{R: 20, G: 10, B: 5, A: 255})
			}
		}
	}
	return img
}

func TestNormalizeOrientation_RotatesPortrait(t *testing.T) {
	img := solidImage(40, 80, color.NRGBA{R: 1, A: 255})
	got := normalizeOrientation(img)
	b := got.Bounds()
	if b.Dx() != 80 || b.Dy() != 40 {
		t.Fatalf("expected rotated bounds 80x40, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestNormalizeOrientation_LeavesLandscapeAlone(t *testing.T) {
	img := solidImage(80, 40, color.NRGBA{A: 255})
	got := normalizeOrientation(img)
	b := got.Bounds()
	if b.Dx() != 80 || b.Dy() != 40 {
		t.Fatalf("expected unchanged bounds 80x40, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestDetectFaces_UniformImageHasNoFaces(t *testing.T) {
	img := solidImage(64, 64, color.NRGBA{R: 100, G: 100, B: 100, A: 255})
	faces := DetectFaces(img)
	if len(faces) != 0 {
		t.Fatalf("expected no faces on a flat-color image, got %d", len(faces))
	}
}

func TestDetectFaces_TexturedImageYieldsFaceWithLandmarks(t *testing.T) {
	img := checkerImage(64, 64, 3)
	faces := DetectFaces(img)
	if len(faces) == 0 {
		t.Fatal("expected at least one candidate face region on a high-texture image")
	}
	f := faces[0]
	for _, group := range []string{"chin", "left_eyebrow", "right_eyebrow", "nose_bridge", "nose_tip", "left_eye", "right_eye", "top_lip", "bottom_lip"} {
		if _, ok := f.Landmarks[group]; !ok {
			t.Errorf("missing landmark group %q", group)
		}
	}
	if len(f.Landmarks["chin"]) != 17 {
		t.Errorf("chin group: got %d points, want 17", len(f.Landmarks["chin"]))
	}
}

func TestImageContentHash_Deterministic(t *testing.T) {
	img := checkerImage(48, 48, 4)
	h1, err := ImageContentHash(img)
	if err != nil {
		t.Fatalf("ImageContentHash: %v", err)
	}
	h2, err := ImageContentHash(img)
	if err != nil {
		t.Fatalf("ImageContentHash: %v", err)
	}
	if h1 != h2 {
		t.Errorf("hash not deterministic: %q vs %q", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("expected 64-char hex digest, got %d chars", len(h1))
	}
}

func TestImageContentHash_DiffersForDifferentContent(t *testing.T) {
	h1, err := ImageContentHash(checkerImage(48, 48, 4))
	if err != nil {
		t.Fatalf("ImageContentHash: %v", err)
	}
	h2, err := ImageContentHash(solidImage(48, 48, color.NRGBA{R: 5, G: 5, B: 5, A: 255}))
	if err != nil {
		t.Fatalf("ImageContentHash: %v", err)
	}
	if h1 == h2 {
		t.Error("expected different content to hash differently")
	}
}

func TestContentHash_FrameIndexReflectsSourceStride(t *testing.T) {
	frames := []image.Image{checkerImage(48, 48, 4), checkerImage(48, 48, 4)}
	h, err := ContentHash(frames, 5)
	if err != nil {
		t.Fatalf("ContentHash: %v", err)
	}
	if len(h) != 64 {
		t.Errorf("expected 64-char hex digest, got %d", len(h))
	}
	h1, err := ContentHash(frames, 1)
	if err != nil {
		t.Fatalf("ContentHash: %v", err)
	}
	if h == h1 {
		t.Error("expected frame indices 0,5 (stride 5) and 0,1 (stride 1) to hash differently")
	}
}

func TestFrameRecord_CanonicalJSONKeyOrder(t *testing.T) {
	rec := FrameRecord{Frame: 5, Faces: []Face{{Rect: Rect{Top: 1, Right: 2, Bottom: 3, Left: 0}, Landmarks: Landmarks{"chin": {{0, 0}}}}}}
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	const want = `{"faces":[{"landmarks":{"chin":[[0,0]]},"rect":{"bottom":3,"left":0,"right":2,"top":1}}],"frame":5}`
	if string(data) != want {
		t.Errorf("got %s\nwant %s", data, want)
	}
}
