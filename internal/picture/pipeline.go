// Package picture turns a raw captured image into the three branded
// derivatives the booth persists: the watermarked original plus medium and
// small renditions, all written under the tag's upload directory.
package picture

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/photobooth/backend/internal/metrics"
)

// Handle references the three persisted derivatives of one capture.
// Ownership transfers to the session on success; on failure no handle
// exists and no files remain.
type Handle struct {
	OriginalPath string
	MediumPath   string
	SmallPath    string
	OriginalURL  string
	MediumURL    string
	SmallURL     string
	Tag          string
}

// Paths returns the local paths in original, medium, small order.
func (h *Handle) Paths() []string {
	return []string{h.OriginalPath, h.MediumPath, h.SmallPath}
}

// URLs returns the public URLs in original, medium, small order.
func (h *Handle) URLs() []string {
	return []string{h.OriginalURL, h.MediumURL, h.SmallURL}
}

// Pipeline processes captures for one booth install.
type Pipeline struct {
	uploadRoot string
	publicHost string
	client     *http.Client
}

func NewPipeline(uploadRoot, publicHost string, client *http.Client) *Pipeline {
	if client == nil {
		client = http.DefaultClient
	}
	return &Pipeline{
		uploadRoot: uploadRoot,
		publicHost: publicHost,
		client:     client,
	}
}

// Process decodes raw (plain image bytes or a base64 data URI), builds a
// watermark strip from the two logos, composites it at the bottom edge of
// the photo, writes the original plus the medium and small renditions and
// returns a handle to all three. Any failure deletes whatever files the
// attempt already wrote before the error is returned, so a failed attempt
// leaves no artifacts.
func (p *Pipeline) Process(ctx context.Context, raw []byte, tag, leftLogoURL, rightLogoURL string) (*Handle, error) {
	h, err := p.process(ctx, raw, tag, leftLogoURL, rightLogoURL)
	if err != nil {
		metrics.PicturesProcessed.WithLabelValues("failure").Inc()
		return nil, err
	}
	metrics.PicturesProcessed.WithLabelValues("success").Inc()
	return h, nil
}

func (p *Pipeline) process(ctx context.Context, raw []byte, tag, leftLogoURL, rightLogoURL string) (*Handle, error) {
	photo, ext, err := DecodeUpload(raw)
	if err != nil {
		return nil, err
	}

	w := photo.Bounds().Dx()
	stripH := photo.Bounds().Dy() / 10

	wmPath, err := CreateWatermark(ctx, p.client, w, stripH, leftLogoURL, rightLogoURL)
	if err != nil {
		return nil, fmt.Errorf("creating watermark: %w", err)
	}
	defer os.Remove(wmPath)

	strip, err := readPNG(wmPath)
	if err != nil {
		return nil, fmt.Errorf("reading watermark: %w", err)
	}

	watermarked := composite(photo, strip)

	dir := DirForTag(p.uploadRoot, tag)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload dir: %w", err)
	}

	names := DerivativeNames(NewBasename(), ext)
	baseURL := BaseURL(p.publicHost, tag)

	// Written paths for this attempt, removed on any failure so a failed
	// post never leaves partial artifacts.
	var written []string
	fail := func(step string, err error) (*Handle, error) {
		for _, f := range written {
			if rmErr := os.Remove(f); rmErr != nil {
				log.Printf("pipeline: cleanup of %s failed: %v", f, rmErr)
			}
		}
		return nil, fmt.Errorf("%s: %w", step, err)
	}

	originalPath := filepath.Join(dir, names[0])
	if err := writeImage(originalPath, watermarked, ext); err != nil {
		return fail("writing original", err)
	}
	written = append(written, originalPath)

	// Both renditions derive from the watermarked composite, not from the
	// raw photo, so the branding survives resizing.
	mediumPath := filepath.Join(dir, names[1])
	if err := writeImage(mediumPath, scale(watermarked, MediumWidth, MediumHeight), ext); err != nil {
		return fail("writing medium rendition", err)
	}
	written = append(written, mediumPath)

	smallPath := filepath.Join(dir, names[2])
	if err := writeImage(smallPath, scale(watermarked, SmallWidth, SmallHeight), ext); err != nil {
		return fail("writing small rendition", err)
	}

	return &Handle{
		OriginalPath: originalPath,
		MediumPath:   mediumPath,
		SmallPath:    smallPath,
		OriginalURL:  baseURL + names[0],
		MediumURL:    baseURL + names[1],
		SmallURL:     baseURL + names[2],
		Tag:          tag,
	}, nil
}

// DecodeUpload decodes a captured image payload. The payload is either the
// raw bytes of a JPEG/PNG (multipart upload) or a base64 data URI
// ("data:image/png;base64,..."). The returned ext is the canonical file
// extension for the detected format.
func DecodeUpload(raw []byte) (image.Image, string, error) {
	if len(raw) == 0 {
		return nil, "", fmt.Errorf("empty image payload")
	}

	data := raw
	if bytes.HasPrefix(raw, []byte("data:")) {
		i := bytes.IndexByte(raw, ',')
		if i < 0 || !bytes.Contains(raw[:i], []byte(";base64")) {
			return nil, "", fmt.Errorf("malformed data URI")
		}
		decoded, err := base64.StdEncoding.DecodeString(string(raw[i+1:]))
		if err != nil {
			return nil, "", fmt.Errorf("decoding base64 payload: %w", err)
		}
		data = decoded
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("unrecognized image encoding: %w", err)
	}
	switch format {
	case "jpeg":
		return img, "jpg", nil
	case "png":
		return img, "png", nil
	default:
		return nil, "", fmt.Errorf("unsupported image format %q", format)
	}
}

// composite pastes the watermark strip onto the photo at the bottom edge,
// full width.
func composite(photo, strip image.Image) *image.NRGBA {
	b := photo.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), photo, b.Min, draw.Src)

	y := b.Dy() - strip.Bounds().Dy()
	r := image.Rect(0, y, strip.Bounds().Dx(), b.Dy())
	draw.Draw(out, r, strip, strip.Bounds().Min, draw.Over)
	return out
}

// writeImage encodes img to path. A failed encode or close (disk full)
// removes the truncated file so no partial derivative survives.
func writeImage(path string, img image.Image, ext string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(ext) {
	case "png":
		err = png.Encode(f, img)
	default:
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: 90})
	}
	if err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

func readPNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return png.Decode(f)
}
