package packager

import (
	"bytes"
	"image"
	"image/color"
	_ "image/gif" // register decoder
	"image/jpeg"
	_ "image/png" // register decoder
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// MaxCoverSide is the largest width or height of a normalized cover.
const MaxCoverSide = 1600

// NormalizeCover returns the cover as a JPEG. JPEG covers are returned as is
// unless square is set, in which case the cover is centered on a white
// square canvas, as audiobook covers are.
func NormalizeCover(data []byte, square bool) ([]byte, error) {
	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return nil, errors.Errorf("cover is not an image: %s", mtype.String())
	}
	if mtype.Is(MediaTypeJPEG) && !square {
		return data, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode cover")
	}
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, errors.New("cover has no pixels")
	}

	canvasW, canvasH := w, h
	if square {
		side := w
		if h > side {
			side = h
		}
		canvasW, canvasH = side, side
	}
	scale := 1.0
	if longest := max(canvasW, canvasH); longest > MaxCoverSide {
		scale = float64(MaxCoverSide) / float64(longest)
	}
	canvasW, canvasH = int(float64(canvasW)*scale), int(float64(canvasH)*scale)
	drawW, drawH := int(float64(w)*scale), int(float64(h)*scale)

	dst := image.NewRGBA(image.Rect(0, 0, canvasW, canvasH))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	offset := image.Pt((canvasW-drawW)/2, (canvasH-drawH)/2)
	target := image.Rectangle{Min: offset, Max: offset.Add(image.Pt(drawW, drawH))}
	draw.CatmullRom.Scale(dst, target, src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 90}); err != nil {
		return nil, errors.Wrap(err, "failed to encode cover")
	}
	return buf.Bytes(), nil
}
