// Package browser drives the controlled platform tab over the Chrome DevTools
// protocol. It attaches to an already-running browser when a debugger URL is
// configured, or launches its own otherwise, and locates the platform tab by
// URL pattern on every action rather than pinning a page reference.
package browser

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"ambler/internal/config"
	"ambler/internal/types"
)

// ErrAborted reports an action interrupted by Abort.
var ErrAborted = errors.New("browser: action aborted")

// Executor implements types.Executor on top of go-rod.
type Executor struct {
	cfg config.BrowserConfig
	log *zap.Logger
	rng *rand.Rand

	mu      sync.Mutex
	browser *rod.Browser

	abort atomic.Bool
}

func NewExecutor(cfg config.BrowserConfig, log *zap.Logger) *Executor {
	return &Executor{
		cfg: cfg,
		log: log.Named("browser"),
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// connect ensures a live browser connection, reconnecting if the previous one
// went stale.
func (e *Executor) connect(ctx context.Context) (*rod.Browser, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.browser != nil {
		if _, err := e.browser.Version(); err == nil {
			return e.browser, nil
		}
		e.log.Warn("stale browser connection, reconnecting")
		_ = e.browser.Close()
		e.browser = nil
	}

	controlURL := e.cfg.DebuggerURL
	if controlURL == "" {
		url, err := launcher.New().Headless(e.cfg.Headless).Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		controlURL = url
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	e.browser = b
	e.log.Info("browser connected", zap.Bool("attached", e.cfg.DebuggerURL != ""))
	return b, nil
}

// matchesPattern implements the trailing-wildcard match used for tab lookup.
func matchesPattern(url, pattern string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(url, prefix)
	}
	return url == pattern
}

// page finds the controlled platform tab. It never opens one: an absent tab
// is the operator's signal that automation should idle.
func (e *Executor) page(ctx context.Context) (*rod.Page, error) {
	b, err := e.connect(ctx)
	if err != nil {
		return nil, err
	}
	pages, err := b.Pages()
	if err != nil {
		return nil, fmt.Errorf("browser: list pages: %w", err)
	}
	for _, p := range pages {
		info, err := p.Info()
		if err != nil {
			continue
		}
		for _, pattern := range e.cfg.URLPatterns {
			if matchesPattern(info.URL, pattern) {
				return p.Context(ctx), nil
			}
		}
	}
	return nil, types.ErrNoTab
}

// Ping verifies a controlled tab exists and evaluates trivially on it.
func (e *Executor) Ping(ctx context.Context) error {
	p, err := e.page(ctx)
	if err != nil {
		return err
	}
	if _, err := p.Eval(`() => document.readyState`); err != nil {
		return fmt.Errorf("browser: ping eval: %w", err)
	}
	return nil
}

// CurrentURL returns the live URL of the controlled tab.
func (e *Executor) CurrentURL(ctx context.Context) (string, error) {
	p, err := e.page(ctx)
	if err != nil {
		return "", err
	}
	info, err := p.Info()
	if err != nil {
		return "", fmt.Errorf("browser: page info: %w", err)
	}
	return info.URL, nil
}

// Abort interrupts any in-flight paced action. The flag stays set until the
// next Execute call begins.
func (e *Executor) Abort() { e.abort.Store(true) }

// Execute performs one action against the controlled tab. Failures that the
// engines should react to (no tab, oversized post) come back as coded results
// with a nil error; transport-level trouble comes back as an error.
func (e *Executor) Execute(ctx context.Context, action types.Action) (types.ExecResult, error) {
	e.abort.Store(false)

	if action.Type.IsLocal() {
		if err := e.pause(ctx, action.Duration); err != nil {
			return types.ExecResult{}, err
		}
		return types.ExecResult{OK: true}, nil
	}

	p, err := e.page(ctx)
	if errors.Is(err, types.ErrNoTab) {
		return types.ExecResult{ErrorCode: types.CodeNoTab, Details: "no platform tab open"}, nil
	}
	if err != nil {
		return types.ExecResult{}, err
	}

	switch action.Type {
	case types.ActionScrollTimeline, types.ActionScrollProfile,
		types.ActionScrollNotifications, types.ActionScrollComments,
		types.ActionContinueReading:
		err = e.scroll(ctx, p, action.Duration)
	case types.ActionRefreshTimeline:
		err = p.Reload()
	case types.ActionOpenTweet:
		err = e.openNthPost(ctx, p)
	case types.ActionLikeTweet, types.ActionLikeComment:
		err = e.like(ctx, p, action.Type)
	case types.ActionOpenProfile:
		err = e.openProfile(ctx, p)
	case types.ActionOpenNotifications:
		err = p.Navigate(strings.TrimSuffix(e.cfg.HomeURL, "/") + "/notifications")
	case types.ActionBackToTimeline:
		err = p.Navigate(e.cfg.HomeURL)
	case types.ActionOpenComposer:
		err = e.openComposer(ctx, p)
	case types.ActionTypeAndPost:
		return e.typeAndPost(ctx, p, action)
	default:
		return types.ExecResult{}, fmt.Errorf("browser: unknown action %q", action.Type)
	}

	if errors.Is(err, ErrAborted) {
		return types.ExecResult{ErrorCode: "ABORTED", Details: "action aborted"}, nil
	}
	if err != nil {
		return types.ExecResult{}, fmt.Errorf("browser: %s: %w", action.Type, err)
	}
	return types.ExecResult{OK: true}, nil
}

// pause waits out a local dwell, honoring ctx and Abort.
func (e *Executor) pause(ctx context.Context, d time.Duration) error {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if e.abort.Load() {
			return nil
		}
		step := time.Until(deadline)
		if step > 200*time.Millisecond {
			step = 200 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(step):
		}
	}
	return nil
}

// scroll performs a sequence of small wheel steps spread over the duration,
// which reads more like a person than one large jump.
func (e *Executor) scroll(ctx context.Context, p *rod.Page, d time.Duration) error {
	if d <= 0 {
		d = time.Duration(800+e.rng.Intn(1200)) * time.Millisecond
	}
	steps := 2 + e.rng.Intn(4)
	per := d / time.Duration(steps)
	for i := 0; i < steps; i++ {
		if e.abort.Load() {
			return ErrAborted
		}
		delta := float64(250 + e.rng.Intn(400))
		if err := p.Mouse.Scroll(0, delta, 1); err != nil {
			return fmt.Errorf("wheel: %w", err)
		}
		if err := e.pause(ctx, per); err != nil {
			return err
		}
	}
	return nil
}

// openNthPost clicks through to one of the visible timeline posts.
func (e *Executor) openNthPost(ctx context.Context, p *rod.Page) error {
	links, err := p.Elements(`a[href*="/post/"]`)
	if err != nil {
		return fmt.Errorf("find posts: %w", err)
	}
	if len(links) == 0 {
		return errors.New("no visible posts")
	}
	// Prefer something near the top of what is loaded.
	pick := links[e.rng.Intn(min(len(links), 4))]
	return pick.Click(proto.InputMouseButtonLeft, 1)
}

func (e *Executor) like(ctx context.Context, p *rod.Page, t types.ActionType) error {
	buttons, err := p.ElementsX(`//div[@role="button"][.//*[name()="svg"][@aria-label="Like"]]`)
	if err != nil {
		return fmt.Errorf("find like buttons: %w", err)
	}
	if len(buttons) == 0 {
		return errors.New("no like target visible")
	}
	idx := 0
	if t == types.ActionLikeComment && len(buttons) > 1 {
		// The first like button belongs to the opened post; pick a reply.
		idx = 1 + e.rng.Intn(len(buttons)-1)
	}
	return buttons[idx].Click(proto.InputMouseButtonLeft, 1)
}

func (e *Executor) openProfile(ctx context.Context, p *rod.Page) error {
	links, err := p.Elements(`a[href^="/@"]`)
	if err != nil {
		return fmt.Errorf("find profile links: %w", err)
	}
	for _, l := range links {
		href, err := l.Attribute("href")
		if err != nil || href == nil {
			continue
		}
		// Skip post permalinks, keep bare profile links.
		if strings.Contains(*href, "/post/") {
			continue
		}
		return l.Click(proto.InputMouseButtonLeft, 1)
	}
	return errors.New("no profile link visible")
}

func (e *Executor) openComposer(ctx context.Context, p *rod.Page) error {
	btn, err := p.ElementX(`//*[@aria-label="Create" or @aria-label="New thread"]`)
	if err != nil {
		return fmt.Errorf("find composer button: %w", err)
	}
	return btn.Click(proto.InputMouseButtonLeft, 1)
}

// typeAndPost types the post text character by character with human pacing,
// attaches any resolved media, and submits.
func (e *Executor) typeAndPost(ctx context.Context, p *rod.Page, action types.Action) (types.ExecResult, error) {
	payload, ok := action.Payload.(types.PostPayload)
	if !ok {
		return types.ExecResult{}, errors.New("browser: TYPE_AND_POST without post payload")
	}

	box, err := p.Element(`div[contenteditable="true"]`)
	if err != nil {
		return types.ExecResult{}, fmt.Errorf("browser: find composer input: %w", err)
	}
	if err := box.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return types.ExecResult{}, fmt.Errorf("browser: focus composer: %w", err)
	}

	for _, r := range payload.Text {
		if e.abort.Load() {
			return types.ExecResult{ErrorCode: "ABORTED", Details: "typing aborted"}, nil
		}
		if err := box.Input(string(r)); err != nil {
			return types.ExecResult{}, fmt.Errorf("browser: type: %w", err)
		}
		delay := time.Duration(40+e.rng.Intn(120)) * time.Millisecond
		if err := e.pause(ctx, delay); err != nil {
			return types.ExecResult{}, err
		}
	}

	if len(payload.Media) > 0 {
		if err := e.attachMedia(ctx, p, payload.Media); err != nil {
			// Media trouble never blocks the text post.
			e.log.Warn("media attach failed, posting text only", zap.Error(err))
		}
	}

	if e.abort.Load() {
		return types.ExecResult{ErrorCode: "ABORTED", Details: "aborted before submit"}, nil
	}

	submit, err := p.ElementX(`//div[@role="button"][normalize-space(text())="Post"]`)
	if err != nil {
		return types.ExecResult{}, fmt.Errorf("browser: find post button: %w", err)
	}
	if err := submit.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return types.ExecResult{}, fmt.Errorf("browser: submit: %w", err)
	}
	return types.ExecResult{OK: true}, nil
}

func (e *Executor) attachMedia(ctx context.Context, p *rod.Page, media []types.MediaFile) error {
	input, err := p.Element(`input[type="file"]`)
	if err != nil {
		return fmt.Errorf("find file input: %w", err)
	}
	paths := make([]string, 0, len(media))
	for _, m := range media {
		paths = append(paths, m.Path)
	}
	return input.SetFiles(paths)
}

// Close disconnects from the browser. A launched browser is shut down; an
// attached one is left running.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.browser == nil {
		return nil
	}
	err := e.browser.Close()
	e.browser = nil
	return err
}
