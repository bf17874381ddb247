// Package demo drives scripted guests through the real session state
// machine so a display client can be exercised without a camera. Nothing
// here bypasses the production path: pictures run through the full
// pipeline and land in the upload tree like real captures.
package demo

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"log"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/photobooth/backend/internal/config"
	"github.com/photobooth/backend/internal/session"
	"github.com/photobooth/backend/internal/ws"
)

// guest is one scripted run through the booth.
type guest struct {
	tag      string
	validate bool
	// pauses between steps, so the display gets believable pacing
	stepDelay time.Duration
}

type Runner struct {
	cfg         *config.Config
	registry    *session.Registry
	broadcaster *ws.Broadcaster
	pipeline    session.Pipeline
	audit       *session.AuditLog
	blacklist   session.Blacklister

	logoLeftURL  string
	logoRightURL string
}

func NewRunner(cfg *config.Config, registry *session.Registry, broadcaster *ws.Broadcaster, pipeline session.Pipeline, audit *session.AuditLog, blacklist session.Blacklister) *Runner {
	return &Runner{
		cfg:         cfg,
		registry:    registry,
		broadcaster: broadcaster,
		pipeline:    pipeline,
		audit:       audit,
		blacklist:   blacklist,
	}
}

// Start serves the demo logo assets on an ephemeral local port and launches
// the guest loop.
func (r *Runner) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("demo asset listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/logo-left.png", serveLogo(color.NRGBA{R: 230, G: 57, B: 70, A: 255}))
	mux.HandleFunc("/logo-right.png", serveLogo(color.NRGBA{R: 69, G: 123, B: 157, A: 255}))

	srv := &http.Server{Handler: mux}
	go srv.Serve(ln)
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	base := "http://" + ln.Addr().String()
	r.logoLeftURL = base + "/logo-left.png"
	r.logoRightURL = base + "/logo-right.png"
	log.Printf("demo: serving logo assets from %s", base)

	go r.run(ctx)
	return nil
}

func (r *Runner) run(ctx context.Context) {
	guests := []guest{
		{tag: "demo-party", validate: true, stepDelay: 2 * time.Second},
		{tag: "demo-party", validate: true, stepDelay: 3 * time.Second},
		{tag: "demo-party", validate: false, stepDelay: 2 * time.Second},
		{tag: "demo-wedding", validate: true, stepDelay: 4 * time.Second},
	}

	i := 0
	for {
		if ctx.Err() != nil {
			return
		}

		// A start without a listening display client aborts immediately,
		// so wait for one before queuing the next guest.
		if r.broadcaster.ClientCount() == 0 {
			if !sleep(ctx, time.Second) {
				return
			}
			continue
		}

		g := guests[i%len(guests)]
		i++
		if err := r.runGuest(ctx, g); err != nil {
			log.Printf("demo: guest run failed: %v", err)
		}
		if !sleep(ctx, g.stepDelay) {
			return
		}
	}
}

func (r *Runner) runGuest(ctx context.Context, g guest) error {
	id := "demo-" + uuid.NewString()[:8]

	sess, err := r.registry.Open(id, session.Options{
		Tag:             g.tag,
		Storage:         session.StorageLocal,
		LogoLeftURL:     r.logoLeftURL,
		LogoRightURL:    r.logoRightURL,
		CounterDuration: r.cfg.Booth.CounterDuration,
		Timeout:         r.cfg.Booth.SessionTimeout,
		RecoveryTimeout: r.cfg.Booth.RecoveryTimeout,
		Notifier:        r.broadcaster,
		Pipeline:        r.pipeline,
		Audit:           r.audit,
		Blacklist:       r.blacklist,
	})
	if err != nil {
		return err
	}

	if err := sess.Start(); err != nil {
		return err
	}
	if !sleep(ctx, g.stepDelay) {
		return ctx.Err()
	}

	if err := sess.Counter(); err != nil {
		return err
	}
	if !sleep(ctx, r.cfg.Booth.CounterDuration+g.stepDelay) {
		return ctx.Err()
	}

	if _, err := sess.Post(ctx, fakeCapture()); err != nil {
		return err
	}
	if !sleep(ctx, g.stepDelay) {
		return ctx.Err()
	}

	if g.validate {
		return sess.Validate()
	}
	return sess.Unvalidate()
}

// fakeCapture renders a gradient frame roughly the shape a booth camera
// produces and encodes it as JPEG.
func fakeCapture() []byte {
	const w, h = 1280, 720
	img := image.NewNRGBA(image.Rect(0, 0, w, h))

	rBase := uint8(rand.Intn(128))
	gBase := uint8(rand.Intn(128))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: rBase + uint8(x*127/w),
				G: gBase + uint8(y*127/h),
				B: 200,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85})
	return buf.Bytes()
}

// serveLogo renders a flat-colored 200x80 PNG on each request.
func serveLogo(c color.NRGBA) http.HandlerFunc {
	img := image.NewNRGBA(image.Rect(0, 0, 200, 80))
	for y := 0; y < 80; y++ {
		for x := 0; x < 200; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	png.Encode(&buf, img)
	data := buf.Bytes()

	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
