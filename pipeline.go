package scancapture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/scan-capture/internal/cadence"
	"github.com/e7canasta/orion-care-sensor/modules/scan-capture/internal/mailbox"
)

// Focuser issues autofocus requests. *DeviceSession implements it.
type Focuser interface {
	RequestAutoFocus() error
}

// PipelineConfig configures a ScanPipeline.
type PipelineConfig struct {
	// Decoder scans frames (required)
	Decoder Decoder
	// Listener receives decoded payloads; nil discards them
	Listener Listener
	// Dispatcher marshals listener calls; nil calls from the decode goroutine
	Dispatcher Dispatcher
	// Focuser receives autofocus requests; nil disables autofocus
	Focuser Focuser
	// AutoFocus selects loop, once or off
	AutoFocus AutoFocusMode
	// AutoFocusInterval is the delay between a completion and the next request in loop mode
	AutoFocusInterval time.Duration
	// CadenceWindow is the number of frame timestamps kept for cadence stats
	CadenceWindow int
}

// PipelineStats contains pipeline counters and frame cadence.
type PipelineStats struct {
	Running           bool
	FramesReceived    uint64
	FramesDecoded     uint64
	FramesDropped     uint64
	DecodeErrors      uint64
	SymbolsEmitted    uint64
	AutoFocusRequests uint64
	AutoFocusFailures uint64
	LastSymbolAt      time.Time

	FPSMean      float64
	FPSStdDev    float64
	JitterMean   float64 // seconds
	CadenceReady bool    // at least two frames in the window
	IsStable     bool
}

// ScanPipeline turns preview frames into decoded payloads.
//
// Architecture:
//
//	driver goroutine ──OnFrame──▶ mailbox (1 slot) ──▶ decode goroutine ──▶ Dispatcher ──▶ Listener
//
// OnFrame copies the frame and never blocks; a frame arriving while the
// previous one is still being decoded replaces any unconsumed frame
// (counted as a drop). The single decode goroutine calls the Decoder and
// forwards every symbol, in decoder order, with no de-duplication.
//
// Autofocus: in loop mode every completion schedules the next request
// after AutoFocusInterval. Stop cancels the pending request; a completion
// arriving after Stop schedules nothing.
type ScanPipeline struct {
	cfg     PipelineConfig
	cadence *cadence.Window

	mu        sync.Mutex
	inbox     atomic.Pointer[mailbox.Mailbox[FrameBuffer]]
	done      chan struct{}
	dropsBase uint64

	afMu    sync.Mutex
	afGen   uint64
	afTimer *time.Timer

	framesReceived    uint64 // atomic
	framesDecoded     uint64 // atomic
	decodeErrors      uint64 // atomic
	symbolsEmitted    uint64 // atomic
	autoFocusRequests uint64 // atomic
	autoFocusFailures uint64 // atomic
	lastSymbolAt      atomic.Int64
}

// NewScanPipeline creates a stopped pipeline.
func NewScanPipeline(cfg PipelineConfig) *ScanPipeline {
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = inline
	}
	if cfg.AutoFocusInterval <= 0 {
		cfg.AutoFocusInterval = DefaultAutoFocusInterval
	}
	return &ScanPipeline{
		cfg:     cfg,
		cadence: cadence.NewWindow(cfg.CadenceWindow),
	}
}

// Start launches the decode goroutine. Starting a running pipeline is a no-op.
func (p *ScanPipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inbox.Load() != nil {
		return
	}

	mb := mailbox.New[FrameBuffer]()
	done := make(chan struct{})
	p.done = done
	p.cadence.Reset()
	p.inbox.Store(mb)

	go p.decodeLoop(mb, done)

	slog.Debug("scan-capture: scan pipeline started",
		"autofocus", p.cfg.AutoFocus.String(),
		"autofocus_interval", p.cfg.AutoFocusInterval,
	)
}

// Stop cancels autofocus, closes the mailbox and waits (up to 3s) for the
// decode goroutine to exit. No listener call starts after Stop returns.
// Idempotent.
func (p *ScanPipeline) Stop() {
	p.CancelAutoFocus()

	p.mu.Lock()
	defer p.mu.Unlock()

	mb := p.inbox.Load()
	if mb == nil {
		return
	}
	p.inbox.Store(nil)
	mb.Close()

	select {
	case <-p.done:
	case <-time.After(3 * time.Second):
		slog.Warn("scan-capture: decode goroutine did not exit within timeout")
	}
	p.dropsBase += mb.Drops()
	p.done = nil

	slog.Debug("scan-capture: scan pipeline stopped",
		"frames_received", atomic.LoadUint64(&p.framesReceived),
		"frames_dropped", p.dropsBase,
	)
}

// Running reports whether the decode goroutine is active.
func (p *ScanPipeline) Running() bool {
	return p.inbox.Load() != nil
}

// OnFrame implements FrameHandler. Non-blocking.
func (p *ScanPipeline) OnFrame(buf FrameBuffer) {
	mb := p.inbox.Load()
	if mb == nil {
		return
	}

	atomic.AddUint64(&p.framesReceived, 1)
	ts := buf.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	p.cadence.Add(ts)

	// buf.Data is only valid during this call
	frame := buf
	frame.Data = append([]byte(nil), buf.Data...)
	mb.Publish(frame)
}

func (p *ScanPipeline) decodeLoop(mb *mailbox.Mailbox[FrameBuffer], done chan struct{}) {
	defer close(done)

	for {
		frame, ok := mb.Receive()
		if !ok {
			return
		}

		symbols, err := p.scan(frame)
		if err != nil {
			atomic.AddUint64(&p.decodeErrors, 1)
			level := slog.LevelDebug
			if !errors.Is(err, ErrDecodeTransient) {
				level = slog.LevelWarn
			}
			slog.Log(context.Background(), level, "scan-capture: frame decode failed",
				"seq", frame.Seq,
				"trace_id", frame.TraceID,
				"partial_symbols", len(symbols),
				"error", err,
			)
		} else {
			atomic.AddUint64(&p.framesDecoded, 1)
		}

		// Symbols found before a decode error are still delivered.
		for _, sym := range symbols {
			p.emit(sym, frame)
		}
	}
}

func (p *ScanPipeline) scan(frame FrameBuffer) (symbols []DecodedSymbol, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("scan-capture: decoder panic", "seq", frame.Seq, "panic", r)
			symbols, err = nil, ErrDecodeTransient
		}
	}()
	return p.cfg.Decoder.Scan(frame)
}

func (p *ScanPipeline) emit(sym DecodedSymbol, frame FrameBuffer) {
	atomic.AddUint64(&p.symbolsEmitted, 1)
	p.lastSymbolAt.Store(time.Now().UnixNano())

	slog.Debug("scan-capture: symbol decoded",
		"format", sym.Format,
		"length", len(sym.Text),
		"seq", frame.Seq,
		"trace_id", frame.TraceID,
	)

	if p.cfg.Listener == nil {
		return
	}
	text := sym.Text
	p.cfg.Dispatcher(func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("scan-capture: listener panic", "panic", r)
			}
		}()
		p.cfg.Listener.OnDecoded(text)
	})
}

// StartAutoFocus issues the first autofocus request for a preview that just
// started. No-op in off mode or without a Focuser.
func (p *ScanPipeline) StartAutoFocus() {
	if p.cfg.Focuser == nil || p.cfg.AutoFocus == AutoFocusOff {
		return
	}

	p.afMu.Lock()
	p.stopTimerLocked()
	p.afGen++
	gen := p.afGen
	p.afMu.Unlock()

	p.requestAutoFocus(gen)
}

// CancelAutoFocus drops any scheduled autofocus request.
func (p *ScanPipeline) CancelAutoFocus() {
	p.afMu.Lock()
	defer p.afMu.Unlock()

	p.stopTimerLocked()
	p.afGen++
}

// OnAutoFocus implements FrameHandler. In loop mode it schedules the next
// request after AutoFocusInterval.
func (p *ScanPipeline) OnAutoFocus(success bool) {
	if !success {
		atomic.AddUint64(&p.autoFocusFailures, 1)
	}
	slog.Debug("scan-capture: autofocus completed", "success", success)

	if p.cfg.Focuser == nil || p.cfg.AutoFocus != AutoFocusLoop || !p.Running() {
		return
	}

	p.afMu.Lock()
	defer p.afMu.Unlock()

	gen := p.afGen
	p.stopTimerLocked()
	p.afTimer = time.AfterFunc(p.cfg.AutoFocusInterval, func() {
		p.requestAutoFocus(gen)
	})
}

func (p *ScanPipeline) requestAutoFocus(gen uint64) {
	p.afMu.Lock()
	current := p.afGen
	p.afMu.Unlock()

	if gen != current || !p.Running() {
		return
	}

	atomic.AddUint64(&p.autoFocusRequests, 1)
	if err := p.cfg.Focuser.RequestAutoFocus(); err != nil {
		slog.Debug("scan-capture: autofocus request failed", "error", err)
	}
}

func (p *ScanPipeline) stopTimerLocked() {
	if p.afTimer != nil {
		p.afTimer.Stop()
		p.afTimer = nil
	}
}

// Stats returns a snapshot of pipeline counters and cadence.
func (p *ScanPipeline) Stats() PipelineStats {
	p.mu.Lock()
	dropped := p.dropsBase
	if mb := p.inbox.Load(); mb != nil {
		dropped += mb.Drops()
	}
	p.mu.Unlock()

	cs := p.cadence.Stats()

	st := PipelineStats{
		Running:           p.Running(),
		FramesReceived:    atomic.LoadUint64(&p.framesReceived),
		FramesDecoded:     atomic.LoadUint64(&p.framesDecoded),
		FramesDropped:     dropped,
		DecodeErrors:      atomic.LoadUint64(&p.decodeErrors),
		SymbolsEmitted:    atomic.LoadUint64(&p.symbolsEmitted),
		AutoFocusRequests: atomic.LoadUint64(&p.autoFocusRequests),
		AutoFocusFailures: atomic.LoadUint64(&p.autoFocusFailures),
		FPSMean:           cs.FPSMean,
		FPSStdDev:         cs.FPSStdDev,
		JitterMean:        cs.JitterMean,
		CadenceReady:      cs.Frames >= 2,
		IsStable:          cs.IsStable,
	}
	if ns := p.lastSymbolAt.Load(); ns != 0 {
		st.LastSymbolAt = time.Unix(0, ns)
	}
	return st
}
