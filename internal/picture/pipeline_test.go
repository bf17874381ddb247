package picture

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func encodeTestPhoto(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newTestPipeline(t *testing.T, srv *httptest.Server) (*Pipeline, string) {
	t.Helper()
	root := t.TempDir()
	return NewPipeline(root, "booth.local:6012", srv.Client()), root
}

func TestProcessWritesThreeDerivatives(t *testing.T) {
	srv := newLogoServer(t, 200, 80)
	p, root := newTestPipeline(t, srv)

	raw := encodeTestPhoto(t, 800, 600)
	h, err := p.Process(context.Background(), raw, "party", srv.URL+"/l.png", srv.URL+"/r.png")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	for _, path := range h.Paths() {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("derivative %s missing: %v", path, err)
		}
		if got := filepath.Dir(path); got != filepath.Join(root, "party") {
			t.Errorf("derivative written to %s, want tag dir", got)
		}
	}

	for _, url := range h.URLs() {
		if !strings.HasPrefix(url, "http://booth.local:6012/uploads/party/") {
			t.Errorf("public URL %q outside the tag prefix", url)
		}
	}

	// The original keeps the photo's dimensions; the renditions are fixed.
	checkDims := func(path string, wantW, wantH int) {
		t.Helper()
		f, err := os.Open(path)
		if err != nil {
			t.Fatal(err)
		}
		defer f.Close()
		cfg, _, err := image.DecodeConfig(f)
		if err != nil {
			t.Fatalf("decoding %s: %v", path, err)
		}
		if cfg.Width != wantW || cfg.Height != wantH {
			t.Errorf("%s is %dx%d, want %dx%d", filepath.Base(path), cfg.Width, cfg.Height, wantW, wantH)
		}
	}
	checkDims(h.OriginalPath, 800, 600)
	checkDims(h.MediumPath, MediumWidth, MediumHeight)
	checkDims(h.SmallPath, SmallWidth, SmallHeight)
}

func TestProcessAcceptsDataURI(t *testing.T) {
	srv := newLogoServer(t, 200, 80)
	p, _ := newTestPipeline(t, srv)

	raw := encodeTestPhoto(t, 640, 480)
	uri := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(raw)

	h, err := p.Process(context.Background(), []byte(uri), "party", srv.URL+"/l.png", srv.URL+"/r.png")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if !strings.HasSuffix(h.OriginalPath, ".jpg") {
		t.Errorf("original path %q, want .jpg extension", h.OriginalPath)
	}
}

func TestProcessFailureLeavesNoFiles(t *testing.T) {
	srv := newLogoServer(t, 200, 80)
	p, root := newTestPipeline(t, srv)

	raw := encodeTestPhoto(t, 640, 480)
	_, err := p.Process(context.Background(), raw, "party", srv.URL+"/l.png", "http://127.0.0.1:1/r.png")
	if err == nil {
		t.Fatal("Process() succeeded with unreachable logo, want error")
	}

	entries, err := os.ReadDir(filepath.Join(root, "party"))
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("failed post left %d file(s) behind", len(entries))
	}
}

func TestProcessRejectsGarbage(t *testing.T) {
	srv := newLogoServer(t, 200, 80)
	p, _ := newTestPipeline(t, srv)

	if _, err := p.Process(context.Background(), []byte("not an image"), "party", srv.URL+"/l.png", srv.URL+"/r.png"); err == nil {
		t.Fatal("Process() accepted garbage payload")
	}
}

func TestWriteImageRemovesFileOnEncodeError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.png")

	// A zero-size image makes the PNG encoder fail after the file was
	// created, the same shape as a disk-full failure mid-write.
	err := writeImage(path, image.NewNRGBA(image.Rect(0, 0, 0, 0)), "png")
	if err == nil {
		t.Fatal("writeImage() succeeded on a zero-size image, want encode error")
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Errorf("truncated file %s left behind after failed encode", path)
	}
}

func TestDecodeUpload(t *testing.T) {
	jpg := encodeTestPhoto(t, 10, 10)

	var pngBuf bytes.Buffer
	if err := png.Encode(&pngBuf, image.NewNRGBA(image.Rect(0, 0, 10, 10))); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		raw     []byte
		wantExt string
		wantErr bool
	}{
		{"RawJPEG", jpg, "jpg", false},
		{"RawPNG", pngBuf.Bytes(), "png", false},
		{"DataURI", []byte("data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpg)), "jpg", false},
		{"DataURIWithoutBase64Marker", []byte("data:image/jpeg," + base64.StdEncoding.EncodeToString(jpg)), "", true},
		{"DataURIBadPayload", []byte("data:image/jpeg;base64,!!!"), "", true},
		{"Garbage", []byte("garbage"), "", true},
		{"Empty", nil, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ext, err := DecodeUpload(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatal("DecodeUpload() succeeded, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeUpload() error = %v", err)
			}
			if ext != tt.wantExt {
				t.Errorf("ext = %q, want %q", ext, tt.wantExt)
			}
		})
	}
}
