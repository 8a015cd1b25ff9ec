// Package processing handles image loading, encoding for model
// transport, and overlay drawing for diagnostics and disambiguation.
package processing

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/element-locator/pkg/types"
)

// LoadImage loads an image from a file path with WebP support.
func LoadImage(path string) (image.Image, error) {
	// Try imaging.Open (registered decoders)
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}

	// Fallback: explicit WebP decode
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if img, err := webp.Decode(f); err == nil {
		return img, nil
	}
	if _, err := f.Seek(0, 0); err == nil {
		if img, _, err := image.Decode(f); err == nil {
			return img, nil
		}
	}
	return nil, fmt.Errorf("image: unknown format for %s", path)
}

// LoadImageFromURL downloads and loads an image from a URL.
func LoadImageFromURL(imageURL string) (image.Image, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	req, err := http.NewRequest("GET", imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("User-Agent", "Element-Locator/1.0 (+https://github.com/menta2k/element-locator)")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %d %s", resp.StatusCode, resp.Status)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("failed to read image data: %v", err)
	}
	return DecodeImage(buf.Bytes())
}

// LoadImageSmart loads an image from either a file path or URL.
func LoadImageSmart(source string) (image.Image, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return LoadImageFromURL(source)
	}
	return LoadImage(source)
}

// DecodeImage decodes an image from byte data with WebP support.
func DecodeImage(data []byte) (image.Image, error) {
	reader := bytes.NewReader(data)
	if img, _, err := image.Decode(reader); err == nil {
		return img, nil
	}

	reader = bytes.NewReader(data)
	if img, err := webp.Decode(reader); err == nil {
		return img, nil
	}

	return nil, fmt.Errorf("image: unknown or unsupported format")
}

// EncodePNG encodes an image as PNG bytes. Reference images are stored
// in this form so matching always starts from lossless pixels.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeForModel converts an image to base64 for sending to vision
// models, resizing the long side down to maxDim when positive.
func EncodeForModel(img image.Image, format string, maxDim int, quality int) (string, error) {
	if maxDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return "", err
		}
	default: // jpg
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return "", err
		}
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// ZoomRegion crops the neighborhood of a pixel-space region, padded by
// padRatio of the region size on every side, and scales it up by factor.
// Used for elements flagged as requiring zoom before grounding.
func ZoomRegion(img image.Image, region types.Region, padRatio, factor float64) (image.Image, types.Region, error) {
	if region.Space != types.SpacePixel {
		return nil, types.Region{}, fmt.Errorf("zoom region must be in pixel space, got %s", region.Space)
	}
	if !region.Valid() {
		return nil, types.Region{}, fmt.Errorf("invalid zoom region")
	}
	if factor < 1 {
		factor = 1
	}

	padX := region.Width() * padRatio
	padY := region.Height() * padRatio
	rect := image.Rect(
		int(region.X1-padX), int(region.Y1-padY),
		int(region.X2+padX), int(region.Y2+padY),
	).Intersect(img.Bounds())
	if rect.Empty() {
		return nil, types.Region{}, fmt.Errorf("empty zoom rectangle")
	}

	cropped := imaging.Crop(img, rect)
	zoomed := imaging.Resize(cropped, int(float64(rect.Dx())*factor), 0, imaging.Lanczos)

	// The crop window in original pixel coordinates; callers map zoomed
	// detections back through it.
	window := types.Region{
		X1: float64(rect.Min.X), Y1: float64(rect.Min.Y),
		X2: float64(rect.Max.X), Y2: float64(rect.Max.Y),
		Space: types.SpacePixel,
	}
	return zoomed, window, nil
}

// SaveImage saves an image to a file with the specified format and quality.
func SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		opts := &webp.Options{Lossless: lossless, Quality: float32(quality)}
		return webp.Encode(f, img, opts)
	case "png":
		return imaging.Save(img, path)
	default: // jpg/jpeg
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}
