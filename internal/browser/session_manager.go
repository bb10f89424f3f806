package browser

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"listenmode/internal/config"
	"listenmode/internal/coordinator"
	"listenmode/internal/log"
	"listenmode/internal/mangle"
)

var (
	// ErrNoSurface means the player is not on the page.
	ErrNoSurface = coordinator.ErrNoSurface
	// ErrNotConnected is returned by session operations before Start.
	ErrNotConnected = errors.New("browser not connected")
	// ErrUnknownSession is returned for session ids the manager does not track.
	ErrUnknownSession = errors.New("unknown session")
)

// DrainInterval is how often the page event queue is read.
const DrainInterval = 500 * time.Millisecond

// Session describes the public metadata for a watch session.
type Session struct {
	ID         string    `json:"id"`
	TargetID   string    `json:"target_id,omitempty"`
	URL        string    `json:"url,omitempty"`
	Status     string    `json:"status,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

type sessionRecord struct {
	meta    Session
	page    *rod.Page
	surface *Surface
	coord   *coordinator.Coordinator
	ctx     context.Context
	cancel  context.CancelFunc
}

// EngineSink receives navigation facts.
type EngineSink interface {
	AddFacts(ctx context.Context, facts []mangle.Fact) error
}

// Tracer receives page events for the flight recorder.
type Tracer interface {
	Log(eventType, sessionID string, data interface{})
}

// SessionObserver is told when watch sessions open and close.
type SessionObserver interface {
	SessionOpened()
	SessionClosed()
}

// CoordinatorFactory builds the coordinator that owns one session's mode.
// It is required.
type CoordinatorFactory func(sessionID string, surface *Surface) *coordinator.Coordinator

// Options wires a SessionManager.
type Options struct {
	Browser    config.BrowserConfig
	ListenMode config.ListenModeConfig
	Sink       EngineSink
	Tracer     Tracer
	Sessions   SessionObserver
	Factory    CoordinatorFactory
}

// SessionManager owns the Chrome instance and the watch sessions on it.
type SessionManager struct {
	cfg        config.BrowserConfig
	script     ScriptConfig
	engine     EngineSink
	tracer     Tracer
	observer   SessionObserver
	factory    CoordinatorFactory
	mu         sync.RWMutex
	browser    *rod.Browser
	sessions   map[string]*sessionRecord
	controlURL string
	baseCtx    context.Context
}

func NewSessionManager(opts Options) *SessionManager {
	return &SessionManager{
		cfg:      opts.Browser,
		script:   NewScriptConfig(opts.ListenMode),
		engine:   opts.Sink,
		tracer:   opts.Tracer,
		observer: opts.Sessions,
		factory:  opts.Factory,
		sessions: make(map[string]*sessionRecord),
		baseCtx:  context.Background(),
	}
}

// Start connects to an existing Chrome or launches one with Rod's launcher.
// The connection outlives ctx's cancellation; use Shutdown to end it.
func (m *SessionManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		log.Warn(nil, "stale browser connection detected, reconnecting")
		_ = m.browser.Close()
		m.browser = nil
		m.controlURL = ""
		m.dropSessionsLocked()
	}

	controlURL := m.cfg.DebuggerURL
	if controlURL == "" {
		url, err := m.launch()
		if err != nil {
			return err
		}
		controlURL = url
	}

	base := context.WithoutCancel(ctx)
	browser := rod.New().ControlURL(controlURL).Context(base)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	m.browser = browser
	m.controlURL = controlURL
	m.baseCtx = base
	log.Info(map[string]any{"control_url": controlURL}, "browser connected")
	return nil
}

// launch starts Chrome from browser.launch, or Rod's default lookup when empty.
func (m *SessionManager) launch() (string, error) {
	l := launcher.New().Headless(m.cfg.IsHeadless())
	if len(m.cfg.Launch) > 0 {
		l = l.Bin(m.cfg.Launch[0])
		for _, rawFlag := range m.cfg.Launch[1:] {
			flagStr := strings.TrimLeft(rawFlag, "-")
			name, val, hasVal := strings.Cut(flagStr, "=")
			if hasVal {
				l = l.Set(flags.Flag(name), val)
			} else {
				l = l.Set(flags.Flag(name))
			}
		}
	}
	url, err := l.Launch()
	if err == nil {
		return url, nil
	}
	if len(m.cfg.Launch) == 0 {
		return "", fmt.Errorf("launch chrome: %w", err)
	}
	// Let Rod pick the port and defaults for the configured binary.
	alt, altErr := launcher.New().Bin(m.cfg.Launch[0]).Headless(m.cfg.IsHeadless()).Launch()
	if altErr != nil {
		return "", fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
	}
	return alt, nil
}

// ControlURL returns the DevTools WebSocket URL of the connected browser.
func (m *SessionManager) ControlURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlURL
}

// IsConnected reports whether Start succeeded and Shutdown has not run.
func (m *SessionManager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser != nil
}

// Shutdown stops every session and closes the browser.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	for id, rec := range m.sessions {
		err = multierr.Append(err, m.closeRecord(rec, true))
		delete(m.sessions, id)
	}
	if m.browser != nil {
		err = multierr.Append(err, m.browser.Close())
		m.browser = nil
	}
	m.controlURL = ""
	log.Info(nil, "browser shutdown complete")
	return err
}

// List returns session metadata, oldest first.
func (m *SessionManager) List() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]Session, 0, len(m.sessions))
	for _, rec := range m.sessions {
		results = append(results, rec.meta)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.Before(results[j].CreatedAt)
	})
	return results
}

// OpenWatch opens url in a new tab with listen mode installed.
func (m *SessionManager) OpenWatch(ctx context.Context, url string) (*Session, error) {
	m.mu.RLock()
	browser := m.browser
	m.mu.RUnlock()
	if browser == nil {
		return nil, ErrNotConnected
	}
	if url == "" {
		url = m.cfg.StartURL
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.GetViewportWidth(),
		Height:            m.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
	}).Call(page); err != nil {
		log.Warn(map[string]any{"error": err.Error()}, "failed to set viewport")
	}

	if err := m.install(ctx, page); err != nil {
		_ = page.Close()
		return nil, err
	}

	// Load failures are not fatal; the script runs on whatever document arrives.
	if err := page.Timeout(m.cfg.NavigationTimeout()).Navigate(url); err != nil {
		log.Warn(map[string]any{"url": url, "error": err.Error()}, "navigation did not complete")
	}

	rec, err := m.track(page, url, "watching")
	if err != nil {
		_ = page.Close()
		return nil, err
	}
	meta := rec.meta
	return &meta, nil
}

// Attach installs listen mode into an existing tab.
func (m *SessionManager) Attach(ctx context.Context, targetID string) (*Session, error) {
	m.mu.RLock()
	browser := m.browser
	m.mu.RUnlock()
	if browser == nil {
		return nil, ErrNotConnected
	}

	page, err := browser.PageFromTarget(proto.TargetTargetID(targetID))
	if err != nil {
		return nil, fmt.Errorf("attach to target %s: %w", targetID, err)
	}
	if err := m.install(ctx, page); err != nil {
		return nil, err
	}

	url := ""
	if info, err := page.Info(); err == nil && info != nil {
		url = info.URL
	}
	rec, err := m.track(page, url, "attached")
	if err != nil {
		return nil, err
	}
	// A tab that already had the button mounted emits no mount event.
	rec.coord.OnTrigger(rec.ctx, "attach")
	meta := rec.meta
	return &meta, nil
}

// install registers the script for future documents and runs it on the current one.
func (m *SessionManager) install(ctx context.Context, page *rod.Page) error {
	js, err := m.script.InstallScript()
	if err != nil {
		return err
	}
	if _, err := page.EvalOnNewDocument(js); err != nil {
		return fmt.Errorf("register page script: %w", err)
	}
	if _, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           installJS,
		JSArgs:       []interface{}{m.script},
		ByValue:      true,
		AwaitPromise: true,
	}); err != nil {
		return fmt.Errorf("install page script: %w", err)
	}
	return nil
}

func (m *SessionManager) track(page *rod.Page, url, status string) (*sessionRecord, error) {
	now := time.Now()
	meta := Session{
		ID:         uuid.NewString(),
		TargetID:   string(page.TargetID),
		URL:        url,
		Status:     status,
		CreatedAt:  now,
		LastActive: now,
	}
	rec, err := m.newRecord(meta, NewSurface(pageCaller{page: page}))
	if err != nil {
		return nil, err
	}
	rec.page = page
	m.register(rec)
	go m.streamEvents(rec)
	return rec, nil
}

func (m *SessionManager) newRecord(meta Session, surface *Surface) (*sessionRecord, error) {
	if m.factory == nil {
		return nil, errors.New("no coordinator factory configured")
	}
	ctx, cancel := context.WithCancel(m.baseCtx)
	return &sessionRecord{
		meta:    meta,
		surface: surface,
		coord:   m.factory(meta.ID, surface),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

func (m *SessionManager) register(rec *sessionRecord) {
	m.mu.Lock()
	m.sessions[rec.meta.ID] = rec
	m.mu.Unlock()

	if m.observer != nil {
		m.observer.SessionOpened()
	}
	m.trace("session", rec.meta.ID, map[string]string{"status": rec.meta.Status, "url": rec.meta.URL})
	log.Info(map[string]any{"session": rec.meta.ID, "target": rec.meta.TargetID, "url": rec.meta.URL}, "watch session opened")
}

// streamEvents forwards main-frame navigations to the journal and drains
// the page queue until the session is closed.
func (m *SessionManager) streamEvents(rec *sessionRecord) {
	ctx := rec.ctx
	go rec.page.Context(ctx).EachEvent(func(ev *proto.PageFrameNavigated) {
		if ev.Frame == nil || ev.Frame.ParentID != "" {
			return
		}
		m.recordNavigation(ctx, rec.meta.ID, ev.Frame.URL)
	})()

	ticker := time.NewTicker(DrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			events, err := rec.surface.Drain(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Debug(map[string]any{"session": rec.meta.ID, "error": err.Error()}, "drain failed")
				continue
			}
			m.handlePageEvents(ctx, rec, events)
		}
	}
}

// handlePageEvents turns drained page events into coordinator triggers.
// Manual clicks are only recorded; the user's choice stands until the next
// mount or navigation.
func (m *SessionManager) handlePageEvents(ctx context.Context, rec *sessionRecord, events []PageEvent) {
	for _, ev := range events {
		id := rec.meta.ID
		m.trace(ev.Type, id, ev)
		switch ev.Type {
		case "mount":
			rec.coord.OnTrigger(ctx, ev.Type)
		case "navigate":
			m.recordNavigation(ctx, id, ev.URL)
			rec.coord.OnTrigger(ctx, ev.Type)
		case "manual":
			log.Info(map[string]any{"session": id, "active": ev.Active}, "listen mode toggled by user")
		default:
			log.Debug(map[string]any{"session": id, "type": ev.Type}, "ignoring page event")
		}
	}
}

func (m *SessionManager) recordNavigation(ctx context.Context, id, url string) {
	if url == "" {
		return
	}
	now := time.Now()
	m.UpdateMetadata(id, func(s Session) Session {
		s.URL = url
		s.LastActive = now
		return s
	})
	if m.engine != nil {
		if err := m.engine.AddFacts(ctx, []mangle.Fact{mangle.NavigationFact(id, url, now)}); err != nil {
			log.Warn(map[string]any{"session": id, "error": err.Error()}, "navigation fact dropped")
		}
	}
}

// Close stops one session and closes its tab when we opened it.
func (m *SessionManager) Close(id string) error {
	m.mu.Lock()
	rec, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return m.closeRecord(rec, rec.meta.Status == "watching")
}

func (m *SessionManager) closeRecord(rec *sessionRecord, closePage bool) error {
	rec.cancel()
	if rec.coord != nil {
		rec.coord.Close()
	}
	if m.observer != nil {
		m.observer.SessionClosed()
	}
	m.trace("session", rec.meta.ID, map[string]string{"status": "closed"})
	if closePage && rec.page != nil {
		return rec.page.Close()
	}
	return nil
}

func (m *SessionManager) dropSessionsLocked() {
	for id, rec := range m.sessions {
		_ = m.closeRecord(rec, false)
		delete(m.sessions, id)
	}
}

// GetSession returns the current session metadata when available.
func (m *SessionManager) GetSession(id string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[id]
	if !ok {
		return Session{}, false
	}
	return rec.meta, true
}

// Surface returns the page surface of a session.
func (m *SessionManager) Surface(id string) (*Surface, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return rec.surface, true
}

// Coordinator returns the coordinator of a session.
func (m *SessionManager) Coordinator(id string) (*coordinator.Coordinator, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return rec.coord, true
}

// Reevaluate schedules a decision cycle for one session.
func (m *SessionManager) Reevaluate(id, source string) error {
	m.mu.RLock()
	rec, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	rec.coord.OnTrigger(rec.ctx, source)
	return nil
}

// ReevaluateAll schedules a decision cycle for every session. It returns the count.
func (m *SessionManager) ReevaluateAll(source string) int {
	m.mu.RLock()
	recs := make([]*sessionRecord, 0, len(m.sessions))
	for _, rec := range m.sessions {
		recs = append(recs, rec)
	}
	m.mu.RUnlock()

	for _, rec := range recs {
		rec.coord.OnTrigger(rec.ctx, source)
	}
	return len(recs)
}

// UpdateMetadata applies updater to a session's metadata.
func (m *SessionManager) UpdateMetadata(id string, updater func(Session) Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[id]
	if !ok {
		return
	}
	rec.meta = updater(rec.meta)
}

func (m *SessionManager) trace(eventType, sessionID string, data interface{}) {
	if m.tracer != nil {
		m.tracer.Log(eventType, sessionID, data)
	}
}
