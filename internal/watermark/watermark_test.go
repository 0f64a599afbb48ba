package watermark

import (
	"image"
	"image/color"
	"testing"
)

func texturedFrame(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8((x*13 + y*29) % 256)
			img.SetNRGBA(x, y, color.NRGBA{R: v, G: v / 2, B: 255 - v, A: 255})
		}
	}
	return img
}

func TestTextToBits_MSBFirst(t *testing.T) {
	bits := textToBits("A") // 0x41 = 01000001
	want := []byte{0, 1, 0, 0, 0, 0, 0, 1}
	if len(bits) != 8 {
		t.Fatalf("expected 8 bits, got %d", len(bits))
	}
	for i, b := range want {
		if bits[i] != b {
			t.Errorf("bit %d: got %d, want %d", i, bits[i], b)
		}
	}
}

func TestDecodePrintableBits_DropsNonPrintable(t *testing.T) {
	bits := append(textToBits("Z"), make([]byte, 8)...) // 'Z' then a 0x00 byte (not printable)
	got := decodePrintableBits(bits)
	if got != "Z" {
		t.Errorf("got %q, want %q", got, "Z")
	}
}

func TestAggregateCandidates_FewerThanThreeYieldsNoResult(t *testing.T) {
	if _, ok := AggregateCandidates([]string{"abc", "abc"}); ok {
		t.Error("expected no result with only 2 candidates")
	}
}

func TestAggregateCandidates_NoCandidateRepeatsReportsManipulated(t *testing.T) {
	got, ok := AggregateCandidates([]string{"abc", "def", "ghi"})
	if !ok {
		t.Fatal("expected a result when no candidate repeats")
	}
	if got != ManipulatedSentinel {
		t.Errorf("got %q, want %q", got, ManipulatedSentinel)
	}
}

func TestAggregateCandidates_MajorityWins(t *testing.T) {
	got, ok := AggregateCandidates([]string{"abc", "def", "abc"})
	if !ok {
		t.Fatal("expected a result")
	}
	if got != "abc" {
		t.Errorf("got %q, want %q", got, "abc")
	}
}

func TestEmbedFrame_ChangesPixels(t *testing.T) {
	frame := texturedFrame(256, 256)
	stamped := EmbedFrame(frame, "abcdefgh01234567")

	same := true
	b := frame.Bounds()
	for y := b.Min.Y; y < b.Max.Y && same; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if frame.At(x, y) != stamped.At(x, y) {
				same = false
				break
			}
		}
	}
	if same {
		t.Error("expected embedding to modify at least some pixels")
	}
}

func TestEmbedFrame_TooSmallFrameReturnsUnchanged(t *testing.T) {
	frame := texturedFrame(4, 4)
	stamped := EmbedFrame(frame, "abcdefgh01234567")
	if stamped != image.Image(frame) {
		t.Error("expected an undersized frame to be returned unchanged")
	}
}

func TestExtractFrame_FlatFrameHasNoSignal(t *testing.T) {
	flat := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	for i := range flat.Pix {
		flat.Pix[i] = 128
	}
	if _, ok := ExtractFrame(flat); ok {
		t.Error("expected a flat frame to report no extractable signal")
	}
}
