package picture

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"net/http"
	"os"

	xdraw "golang.org/x/image/draw"
)

const (
	// logoMargin is the horizontal inset of each logo from the strip edge.
	logoMargin = 10
	// stripReserve is the width kept free between the two logos so they
	// never touch.
	stripReserve = 50
)

// stripAlpha is the opacity of the watermark strip background.
var stripColor = color.NRGBA{R: 255, G: 255, B: 255, A: 110}

// CreateWatermark downloads the two logos, scales them to fit a
// canvasW x canvasH strip and composites them onto a translucent base.
// It writes exactly one output file (the strip, PNG) and returns its path.
// The intermediate resized-logo files are removed on success; on failure
// the caller must not assume they are gone.
func CreateWatermark(ctx context.Context, client *http.Client, canvasW, canvasH int, leftURL, rightURL string) (string, error) {
	if canvasW <= 0 || canvasH <= 0 {
		return "", fmt.Errorf("invalid watermark canvas %dx%d", canvasW, canvasH)
	}
	if client == nil {
		client = http.DefaultClient
	}

	left, right, err := fetchLogos(ctx, client, leftURL, rightURL)
	if err != nil {
		return "", err
	}

	// Scale each logo to the strip height, preserving aspect ratio.
	leftW, leftH := fitToHeight(left.Bounds().Dx(), left.Bounds().Dy(), canvasH)
	rightW, rightH := fitToHeight(right.Bounds().Dx(), right.Bounds().Dy(), canvasH)

	// Both logos must fit side by side with the reserve kept free. A logo
	// wider than half the budget is shrunk to half, aspect preserved.
	budget := canvasW - stripReserve
	if leftW+rightW > budget {
		half := budget / 2
		if leftW > half {
			leftW, leftH = fitToWidth(leftW, leftH, half)
		}
		if rightW > half {
			rightW, rightH = fitToWidth(rightW, rightH, half)
		}
	}

	leftScaled := scale(left, leftW, leftH)
	rightScaled := scale(right, rightW, rightH)

	leftTmp, err := writeTempPNG(leftScaled, "logo-left-*.png")
	if err != nil {
		return "", fmt.Errorf("writing resized left logo: %w", err)
	}
	rightTmp, err := writeTempPNG(rightScaled, "logo-right-*.png")
	if err != nil {
		return "", fmt.Errorf("writing resized right logo: %w", err)
	}

	strip := image.NewNRGBA(image.Rect(0, 0, canvasW, canvasH))
	draw.Draw(strip, strip.Bounds(), image.NewUniform(stripColor), image.Point{}, draw.Src)

	pasteAt := func(img image.Image, x int) {
		h := img.Bounds().Dy()
		y := (canvasH - h) / 2
		r := image.Rect(x, y, x+img.Bounds().Dx(), y+h)
		draw.Draw(strip, r, img, img.Bounds().Min, draw.Over)
	}
	pasteAt(leftScaled, logoMargin)
	pasteAt(rightScaled, canvasW-rightScaled.Bounds().Dx()-logoMargin)

	out, err := writeTempPNG(strip, "watermark-*.png")
	if err != nil {
		return "", fmt.Errorf("writing watermark: %w", err)
	}

	os.Remove(leftTmp)
	os.Remove(rightTmp)
	return out, nil
}

// fetchLogos downloads both logos concurrently. Either failure fails the
// whole operation; no partial retries.
func fetchLogos(ctx context.Context, client *http.Client, leftURL, rightURL string) (left, right image.Image, err error) {
	type result struct {
		img image.Image
		err error
	}
	leftCh := make(chan result, 1)
	rightCh := make(chan result, 1)

	fetch := func(url string, ch chan<- result) {
		img, err := fetchImage(ctx, client, url)
		ch <- result{img, err}
	}
	go fetch(leftURL, leftCh)
	go fetch(rightURL, rightCh)

	lr, rr := <-leftCh, <-rightCh
	if lr.err != nil {
		return nil, nil, fmt.Errorf("downloading left logo: %w", lr.err)
	}
	if rr.err != nil {
		return nil, nil, fmt.Errorf("downloading right logo: %w", rr.err)
	}
	return lr.img, rr.img, nil
}

func fetchImage(ctx context.Context, client *http.Client, url string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", url, err)
	}
	return img, nil
}

// fitToHeight scales (w, h) so the height becomes target, aspect preserved.
func fitToHeight(w, h, target int) (int, int) {
	if h == 0 {
		return 0, 0
	}
	return w * target / h, target
}

// fitToWidth scales (w, h) so the width becomes target, aspect preserved.
func fitToWidth(w, h, target int) (int, int) {
	if w == 0 {
		return 0, 0
	}
	return target, h * target / w
}

// scale resamples img to exactly w x h.
func scale(img image.Image, w, h int) *image.NRGBA {
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Over, nil)
	return dst
}

func writeTempPNG(img image.Image, pattern string) (string, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return f.Name(), nil
}
