// Package session implements the booth's lifecycle state machine. One
// Session exists per guest interaction; the Registry tracks the live ones.
//
// Every state-mutating handler runs under the session mutex and disarms the
// outstanding timer before doing anything else, so a client action and a
// firing timeout can never both act on the same transition: whichever takes
// the mutex first wins, and a timeout that fires after its disarm observes
// a stale generation and is a no-op.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/photobooth/backend/internal/metrics"
	"github.com/photobooth/backend/internal/picture"
)

// Notifier delivers a broadcast event to connected display clients and
// reports whether any client was listening. The state machine branches on
// that report: a session nobody watches is closed immediately.
type Notifier interface {
	Emit(event string, payload any) bool
}

// Pipeline produces the persisted derivatives for one capture.
type Pipeline interface {
	Process(ctx context.Context, raw []byte, tag, leftLogoURL, rightLogoURL string) (*picture.Handle, error)
}

// Blacklister records a discarded capture so album listings skip it.
type Blacklister interface {
	Blacklist(tag, basename string) error
}

// StorageMode selects the persistence target for a session's pictures.
type StorageMode string

const (
	StorageLocal StorageMode = "local"
	StorageCloud StorageMode = "cloud"
)

var (
	ErrNoListener       = errors.New("no client is currently connected")
	ErrCloudUnsupported = errors.New("cloud storage is not configured on this booth")
)

// IllegalActionError reports an action called from the wrong step. The
// session state is left unchanged.
type IllegalActionError struct {
	Action string
	Step   Step
}

func (e *IllegalActionError) Error() string {
	return fmt.Sprintf("illegal action %q for the session state (state = %s)", e.Action, e.Step)
}

// Options carries the per-session parameters validated at the subscribe
// boundary.
type Options struct {
	Tag             string
	Storage         StorageMode
	LogoLeftURL     string
	LogoRightURL    string
	CounterDuration time.Duration
	Timeout         time.Duration
	RecoveryTimeout time.Duration

	Notifier  Notifier
	Pipeline  Pipeline
	Audit     *AuditLog
	Blacklist Blacklister
}

// Session is one guest's start-to-finish booth interaction.
type Session struct {
	mu sync.Mutex

	id              string
	tag             string
	storage         StorageMode
	logoLeftURL     string
	logoRightURL    string
	counterDuration time.Duration
	timeout         time.Duration
	recovery        time.Duration

	notifier  Notifier
	pipeline  Pipeline
	audit     *AuditLog
	blacklist Blacklister

	step        Step
	pictureURLs []string
	localPaths  []string
	openedAt    time.Time

	// timer is the single outstanding cancellation token; timerSeq is the
	// generation a fired callback must match to have any effect.
	timer    *time.Timer
	timerSeq uint64
}

func New(id string, opts Options) *Session {
	return &Session{
		id:              id,
		tag:             opts.Tag,
		storage:         opts.Storage,
		logoLeftURL:     opts.LogoLeftURL,
		logoRightURL:    opts.LogoRightURL,
		counterDuration: opts.CounterDuration,
		timeout:         opts.Timeout,
		recovery:        opts.RecoveryTimeout,
		notifier:        opts.Notifier,
		pipeline:        opts.Pipeline,
		audit:           opts.Audit,
		blacklist:       opts.Blacklist,
		step:            None,
		openedAt:        time.Now(),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Tag() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tag
}

func (s *Session) Step() Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// PictureURLs returns a copy of the session's picture URLs; length is
// always 0 or 3.
func (s *Session) PictureURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	urls := make([]string, len(s.pictureURLs))
	copy(urls, s.pictureURLs)
	return urls
}

// Snapshot is the payload broadcast to display clients.
type Snapshot struct {
	ID             string   `json:"id"`
	Tag            string   `json:"tag"`
	Step           Step     `json:"step"`
	CounterSeconds int      `json:"counterSeconds"`
	Pictures       []string `json:"pictures,omitempty"`
}

// PicturesPayload accompanies the newPicture broadcast.
type PicturesPayload struct {
	Tag  string   `json:"tag"`
	Pics []string `json:"pics"`
}

func (s *Session) snapshotLocked() Snapshot {
	pics := make([]string, len(s.pictureURLs))
	copy(pics, s.pictureURLs)
	return Snapshot{
		ID:             s.id,
		Tag:            s.tag,
		Step:           s.step,
		CounterSeconds: int(s.counterDuration / time.Second),
		Pictures:       pics,
	}
}

// Start moves the session from None to Start and arms the base timeout.
// Without a listening display client the session is closed instead.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step != None {
		return &IllegalActionError{Action: "start", Step: s.step}
	}

	s.step = Start
	if !s.notifier.Emit(EventStartSession, s.snapshotLocked()) {
		s.closeLocked(StatusAborted)
		return ErrNoListener
	}
	s.armLocked(s.timeout)
	metrics.SessionsStarted.Inc()
	if s.audit != nil {
		if err := s.audit.Record(s.id, StatusStarted); err != nil {
			log.Printf("session %s: audit log write failed: %v", s.id, err)
		}
	}
	log.Printf("session %s: started (tag=%s)", s.id, s.tag)
	return nil
}

// Counter moves the session from Start to Counter. The armed deadline
// covers the guest-visible countdown plus the base timeout.
func (s *Session) Counter() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step != Start {
		return &IllegalActionError{Action: "counter", Step: s.step}
	}
	s.disarmLocked()

	s.step = Counter
	if !s.notifier.Emit(EventCounter, s.snapshotLocked()) {
		s.closeLocked(StatusAborted)
		return ErrNoListener
	}
	s.armLocked(s.counterDuration + s.timeout)
	log.Printf("session %s: counter begun (%s)", s.id, s.counterDuration)
	return nil
}

// Post runs the picture pipeline for a capture. On success the session
// holds exactly three picture URLs and waits in PendingValidation; on
// pipeline failure the attempt's files are already gone, the session stays
// in Posting with a short recovery timer armed, and the caller may retry.
//
// The pipeline runs with the mutex released: downloads and disk writes can
// take a while and must not block Kill or registry housekeeping. The step
// guard is re-checked on completion; a session killed or timed out in the
// meantime discards the late result.
func (s *Session) Post(ctx context.Context, raw []byte) (*picture.Handle, error) {
	s.mu.Lock()

	if s.step != Counter && s.step != Posting {
		step := s.step
		s.mu.Unlock()
		return nil, &IllegalActionError{Action: "post", Step: step}
	}
	if s.tag == "" {
		s.mu.Unlock()
		return nil, fmt.Errorf("session %s: no tag set", s.id)
	}
	s.disarmLocked()
	s.step = Posting

	if s.storage == StorageCloud {
		s.armLocked(s.recovery)
		s.mu.Unlock()
		return nil, ErrCloudUnsupported
	}

	tag, left, right := s.tag, s.logoLeftURL, s.logoRightURL
	s.mu.Unlock()

	handle, err := s.pipeline.Process(ctx, raw, tag, left, right)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step != Posting {
		if handle != nil {
			for _, f := range handle.Paths() {
				if rmErr := os.Remove(f); rmErr != nil {
					log.Printf("session %s: discarding late picture %s: %v", s.id, f, rmErr)
				}
			}
		}
		return nil, &IllegalActionError{Action: "post", Step: s.step}
	}

	if err != nil {
		s.armLocked(s.recovery)
		return nil, fmt.Errorf("posting picture: %w", err)
	}

	s.pictureURLs = handle.URLs()
	s.localPaths = handle.Paths()
	s.step = PendingValidation
	s.armLocked(s.timeout)
	log.Printf("session %s: picture posted, pending validation", s.id)
	return handle, nil
}

// Validate publishes the finished picture set and closes the session.
func (s *Session) Validate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step != PendingValidation {
		return &IllegalActionError{Action: "validate", Step: s.step}
	}
	s.disarmLocked()

	pics := make([]string, len(s.pictureURLs))
	copy(pics, s.pictureURLs)
	s.notifier.Emit(EventNewPicture, PicturesPayload{Tag: s.tag, Pics: pics})
	s.closeLocked(StatusValidated)
	return nil
}

// Unvalidate discards the persisted pictures and closes the session.
func (s *Session) Unvalidate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step != PendingValidation {
		return &IllegalActionError{Action: "unvalidate", Step: s.step}
	}
	s.disarmLocked()
	s.deletePicturesLocked()
	s.closeLocked(StatusUnvalidated)
	return nil
}

// Kill is the administrative hard stop. It always succeeds; killing an
// already-ended session is a no-op.
func (s *Session) Kill() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step == End {
		return
	}
	s.disarmLocked()
	s.deletePicturesLocked()
	s.closeLocked(StatusKilled)
}

// reachedTimeout runs when an armed deadline expires. A stale generation
// means a handler disarmed the timer after the callback was already
// scheduled; in that case nothing happens.
func (s *Session) reachedTimeout(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq != s.timerSeq || s.step == End {
		return
	}
	log.Printf("session %s: reached timeout (state = %s)", s.id, s.step)
	s.deletePicturesLocked()
	s.closeLocked(StatusTimeout)
}

// armLocked schedules the single outstanding timeout. Handlers always
// disarm before arming, so at most one timer is live.
func (s *Session) armLocked(d time.Duration) {
	s.timerSeq++
	seq := s.timerSeq
	s.timer = time.AfterFunc(d, func() { s.reachedTimeout(seq) })
}

// disarmLocked cancels the outstanding timeout and invalidates any
// callback already in flight.
func (s *Session) disarmLocked() {
	s.timerSeq++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// closeLocked is the shared terminal logic: End state, endSession
// broadcast, one-time audit flush.
func (s *Session) closeLocked(status CloseStatus) {
	s.disarmLocked()
	s.step = End
	s.notifier.Emit(EventEndSession, s.snapshotLocked())
	if s.audit != nil {
		if err := s.audit.Record(s.id, status); err != nil {
			log.Printf("session %s: audit log write failed: %v", s.id, err)
		}
	}
	metrics.SessionsClosed.WithLabelValues(strings.ToLower(string(status))).Inc()
	log.Printf("session %s: closed (%s)", s.id, status)
}

// deletePicturesLocked removes every persisted derivative of this session
// and blacklists the original's basename so album listings cannot
// resurrect it from a stale cache.
func (s *Session) deletePicturesLocked() {
	if len(s.localPaths) == 0 {
		return
	}

	if s.blacklist != nil {
		name := filepath.Base(s.localPaths[0])
		if err := s.blacklist.Blacklist(s.tag, name); err != nil {
			log.Printf("session %s: blacklist append failed: %v", s.id, err)
		}
	}

	for _, f := range s.localPaths {
		if err := os.Remove(f); err != nil {
			log.Printf("session %s: error deleting %s: %v", s.id, f, err)
		}
	}
	s.pictureURLs = nil
	s.localPaths = nil
}
