package playback

import (
	"sync"
	"sync/atomic"

	"github.com/tphakala/go-playback/internal/logger"
	"github.com/tphakala/go-playback/internal/metadata"
	"github.com/tphakala/go-playback/internal/observability/metrics"
	"github.com/tphakala/go-playback/internal/ringbuf"
	"github.com/tphakala/go-playback/internal/trackslot"
)

const controlQueueSize = 64

// reply answers a decoder request
type reply int

const (
	replyComplete reply = iota + 1
	replyFailed
)

func (r reply) String() string {
	if r == replyComplete {
		return "complete"
	}
	return "failed"
}

// decodeRequest tells the decoder where to load its next image from
type decodeRequest struct {
	fromRing bool
	path     string // image path for loads from disk
}

// session is the state shared by the orchestrator and the decoder. Every
// field below mu is guarded by it.
type session struct {
	cfg     Config
	deps    Dependencies
	out     Output
	ring    *ringbuf.Buffer
	cb      *callbacks
	metrics *metrics.PlaybackMetrics
	log     logger.Logger
	voice   *overlay

	control   chan command
	decode    chan decodeRequest
	replies   chan reply
	interrupt chan struct{}
	closing   <-chan struct{}

	// halted mirrors stopCodec for lock-free readers such as swap aborts
	halted atomic.Bool

	mu   sync.Mutex
	cond *sync.Cond

	slots *trackslot.Ring

	playing     bool
	paused      bool
	filling     bool
	playlistEnd bool
	closed      bool

	stopCodec      bool
	codecLoaded    bool
	requestPending bool
	automaticSkip  bool
	dirSkip        bool
	newPlaylist    bool
	trackChanged   bool

	newTrack  int   // pending track delta seen by the decoder
	wpsOffset int   // skips requested but not yet applied
	seekTime  int64 // pending seek in ms plus one
	curPos    int64 // decoder file position
	fileSize  int64 // size of the decoding track
	flushes   uint64
	prevTrack *metadata.Track
	sessionID string

	watermark  int
	marginSecs int
	fileChunk  int
	preseek    int
}

func newSession(cfg Config, ring *ringbuf.Buffer, slots *trackslot.Ring, deps Dependencies, cb *callbacks, closing <-chan struct{}) *session {
	s := &session{
		cfg:        cfg,
		deps:       deps,
		out:        deps.Output,
		ring:       ring,
		cb:         cb,
		metrics:    deps.Metrics,
		log:        deps.Logger,
		control:    make(chan command, controlQueueSize),
		decode:     make(chan decodeRequest, 1),
		replies:    make(chan reply, 1),
		interrupt:  make(chan struct{}, 1),
		closing:    closing,
		slots:      slots,
		watermark:  cfg.Watermark,
		marginSecs: MarginSeconds(cfg.BufferMargin),
		fileChunk:  cfg.FileChunk,
		preseek:    cfg.PreseekGuess,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// setStopCodec updates the stop flag and its lock-free mirror. Caller holds s.mu.
func (s *session) setStopCodec(stop bool) {
	s.stopCodec = stop
	s.halted.Store(stop)
}

// kick wakes every decoder wait so it re-evaluates the session flags. Caller holds s.mu.
func (s *session) kick() {
	s.cond.Broadcast()
	select {
	case s.interrupt <- struct{}{}:
	default:
	}
}

// shutdown stops the decoder at its next check and wakes every waiter
func (s *session) shutdown() {
	s.mu.Lock()
	s.closed = true
	s.setStopCodec(true)
	s.kick()
	s.mu.Unlock()
}

// current returns the playing track metadata or nil. Caller holds s.mu.
func (s *session) current() *metadata.Track {
	return s.slots.Current().Track
}

// post queues a command without blocking. It reports whether the command was queued.
func (s *session) post(cmd command) bool {
	select {
	case s.control <- cmd:
		return true
	default:
		return false
	}
}

// postWait queues a command, blocking until there is room or the engine closes
func (s *session) postWait(cmd command) bool {
	select {
	case s.control <- cmd:
		return true
	case <-s.closing:
		return false
	}
}

// postFill asks the orchestrator to fill the ring. A forced fill ignores the
// watermark. Caller holds s.mu.
func (s *session) postFill(force bool) {
	if s.post(command{kind: cmdFill, force: force}) {
		return
	}
	s.log.Debug("control queue full, fill request dropped")
}

// answer replies to the pending decoder request, if any. Caller holds s.mu.
func (s *session) answer(r reply) {
	if !s.requestPending {
		return
	}
	s.requestPending = false
	s.replies <- r
}

// publishState records ring gauges. Caller holds s.mu.
func (s *session) publishState() {
	s.metrics.SetBufferState(s.ring.Used(), s.slots.TrackCount())
}
