package spectrum

import (
	"bytes"
	"encoding/base64"
	"image"
	"strings"

	// Register decoders used by camera frames.
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/specphone/specphone/internal/device"
	"github.com/specphone/specphone/internal/errors"
)

// DecodeFrame decodes a PNG, JPEG or WebP camera frame and collapses the ROI
// into a luminance profile: one value per ROI column, averaged over the ROI
// rows, on a 0-255 scale. A zero ROI uses the whole image.
func DecodeFrame(data []byte, roi device.ROI) ([]float64, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryFileParsing).
			Context("operation", "decode_frame").
			Build()
	}

	bounds := img.Bounds()
	rect := bounds
	if roi.W > 0 && roi.H > 0 {
		rect = image.Rect(roi.X, roi.Y, roi.X+roi.W, roi.Y+roi.H).Add(bounds.Min).Intersect(bounds)
	}
	if rect.Empty() {
		return nil, errors.Newf("roi %+v outside %dx%d frame", roi, bounds.Dx(), bounds.Dy()).
			Component(componentName).
			Category(errors.CategoryValidation).
			Build()
	}

	gray := imaging.Grayscale(imaging.Crop(img, rect))
	w, h := gray.Rect.Dx(), gray.Rect.Dy()

	profile := make([]float64, w)
	for y := range h {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+w*4]
		for x := range w {
			profile[x] += float64(row[x*4])
		}
	}
	for x := range profile {
		profile[x] /= float64(h)
	}
	return profile, nil
}

// DecodeBase64Frames decodes base64 image frames, with or without a data URL
// prefix, into a burst. All frames must decode to the same width.
func DecodeBase64Frames(frames []string, roi device.ROI) (Matrix, error) {
	out := make(Matrix, 0, len(frames))
	for i, frame := range frames {
		if idx := strings.Index(frame, ","); strings.HasPrefix(frame, "data:") && idx >= 0 {
			frame = frame[idx+1:]
		}
		data, err := base64.StdEncoding.DecodeString(frame)
		if err != nil {
			return nil, errors.New(err).
				Component(componentName).
				Category(errors.CategoryFileParsing).
				Context("frame", i).
				Build()
		}
		row, err := DecodeFrame(data, roi)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}
