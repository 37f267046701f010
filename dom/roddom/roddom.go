// Package roddom implements dom.Source over a live Chrome page driven
// through CDP with go-rod. Stealth is applied on page creation — the
// monitored board is hostile to automated reading — and structural
// mutations are captured by an injected MutationObserver that reports
// batch counts through a Runtime binding.
package roddom

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/boardwatch/dom"
)

const bindingName = "__boardwatch_mut"

const observerJS = `() => {
	if (window.__boardwatch_observing) return;
	window.__boardwatch_observing = true;
	const obs = new MutationObserver((muts) => {
		let added = 0, removed = 0;
		for (const m of muts) {
			added += m.addedNodes.length;
			removed += m.removedNodes.length;
		}
		if (added || removed) {
			window.` + bindingName + `(JSON.stringify({added: added, removed: removed}));
		}
	});
	obs.observe(document.documentElement, {childList: true, subtree: true});
}`

// Config for opening a browser source.
type Config struct {
	// URL of the monitored board.
	URL string
	// Remote is an existing browser's control URL. Empty launches a
	// local headless Chrome.
	Remote string
	// Headful disables headless mode for the local launch.
	Headful bool
	// NavigateTimeout bounds navigation and initial load. Default: 30s.
	NavigateTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Source is a live browser page implementing dom.Source.
type Source struct {
	browser *rod.Browser
	page    *rod.Page
	logger  *slog.Logger

	mut    chan dom.Mutation
	cancel context.CancelFunc

	ownsBrowser bool
}

// Open connects to (or launches) a browser, navigates to the board with
// stealth applied, and starts the mutation observer.
func Open(ctx context.Context, cfg Config) (*Source, error) {
	cfg.defaults()

	controlURL := cfg.Remote
	ownsBrowser := false
	if controlURL == "" {
		u, err := launcher.New().Headless(!cfg.Headful).Launch()
		if err != nil {
			return nil, fmt.Errorf("roddom: launch browser: %w", err)
		}
		controlURL = u
		ownsBrowser = true
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("roddom: connect browser: %w", err)
	}

	page, err := stealth.Page(browser)
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("roddom: create stealth page: %w", err)
	}

	navCtx, cancelNav := context.WithTimeout(ctx, cfg.NavigateTimeout)
	defer cancelNav()
	if err := page.Context(navCtx).Navigate(cfg.URL); err != nil {
		page.Close()
		browser.Close()
		return nil, fmt.Errorf("roddom: navigate %s: %w", cfg.URL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		cfg.Logger.Warn("roddom: wait load timeout", "url", cfg.URL, "error", err)
	}

	obsCtx, cancel := context.WithCancel(ctx)
	s := &Source{
		browser:     browser,
		page:        page,
		logger:      cfg.Logger,
		mut:         make(chan dom.Mutation, 64),
		cancel:      cancel,
		ownsBrowser: ownsBrowser,
	}

	if err := s.startObserver(obsCtx); err != nil {
		s.Close()
		return nil, err
	}

	cfg.Logger.Info("roddom: observing", "url", cfg.URL)
	return s, nil
}

func (s *Source) startObserver(ctx context.Context) error {
	if err := (proto.RuntimeAddBinding{Name: bindingName}.Call(s.page)); err != nil {
		s.logger.Warn("roddom: add binding failed (may already exist)", "error", err)
	}

	go s.listenBinding(ctx)

	if _, err := s.page.Eval(observerJS); err != nil {
		return fmt.Errorf("roddom: inject observer: %w", err)
	}
	return nil
}

// listenBinding forwards MutationObserver batches from the page to the
// mutation channel.
func (s *Source) listenBinding(ctx context.Context) {
	s.page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		var batch struct {
			Added   int `json:"added"`
			Removed int `json:"removed"`
		}
		if err := json.Unmarshal([]byte(e.Payload), &batch); err != nil {
			s.logger.Warn("roddom: parse binding payload", "error", err)
			return
		}
		select {
		case s.mut <- dom.Mutation{Added: batch.Added, Removed: batch.Removed}:
		default:
			// Consumer is behind; the cycle re-reads the page anyway.
		}
	})()
}

// Root returns the document element.
func (s *Source) Root() dom.Node {
	el, err := s.page.Element("html")
	if err != nil {
		return detachedNode{}
	}
	return &node{src: s, el: el}
}

// QueryAll resolves a convention against the page.
func (s *Source) QueryAll(conv dom.Convention) []dom.Node {
	var out []dom.Node
	seen := make(map[proto.RuntimeRemoteObjectID]bool)
	for _, sel := range conv {
		els, err := s.page.Elements(sel)
		if err != nil {
			s.logger.Debug("roddom: query failed", "selector", sel, "error", err)
			continue
		}
		for _, el := range els {
			id := el.Object.ObjectID
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, &node{src: s, el: el})
		}
	}
	return out
}

// Mutations returns the structural change channel.
func (s *Source) Mutations() <-chan dom.Mutation { return s.mut }

// Close stops observation and shuts down the page (and the browser, when
// this source launched it).
func (s *Source) Close() error {
	s.cancel()
	if s.page != nil {
		_ = s.page.Close()
	}
	if s.ownsBrowser && s.browser != nil {
		return s.browser.Close()
	}
	return nil
}

// ---------- node handle ----------

type node struct {
	src *Source
	el  *rod.Element
}

func (n *node) Text() string {
	text, err := n.el.Text()
	if err != nil {
		return ""
	}
	return strings.Join(strings.Fields(text), " ")
}

func (n *node) Attr(name string) string {
	v, err := n.el.Attribute(name)
	if err != nil || v == nil {
		return ""
	}
	return *v
}

func (n *node) Tag() string {
	res, err := n.el.Eval(`() => this.tagName.toLowerCase()`)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

func (n *node) QueryAll(conv dom.Convention) []dom.Node {
	var out []dom.Node
	seen := make(map[proto.RuntimeRemoteObjectID]bool)
	for _, sel := range conv {
		els, err := n.el.Elements(sel)
		if err != nil {
			continue
		}
		for _, el := range els {
			id := el.Object.ObjectID
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, &node{src: n.src, el: el})
		}
	}
	return out
}

func (n *node) Closest(conv dom.Convention) dom.Node {
	for _, sel := range conv {
		obj, err := n.el.Evaluate(rod.Eval(`(sel) => this.closest(sel)`, sel).ByObject())
		if err != nil || obj == nil || obj.ObjectID == "" {
			continue
		}
		el, err := n.src.page.ElementFromObject(obj)
		if err != nil {
			continue
		}
		return &node{src: n.src, el: el}
	}
	return nil
}

func (n *node) Attached() bool {
	res, err := n.el.Eval(`() => document.contains(this)`)
	if err != nil {
		return false
	}
	return res.Value.Bool()
}

func (n *node) Click(ctx context.Context) error {
	return n.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1)
}

func (n *node) Fill(ctx context.Context, value string) error {
	el := n.el.Context(ctx)
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("roddom: select text: %w", err)
	}
	if err := el.Input(value); err != nil {
		return fmt.Errorf("roddom: input: %w", err)
	}
	return nil
}

func (n *node) SetChecked(ctx context.Context, checked bool) error {
	_, err := n.el.Context(ctx).Eval(`(v) => {
		this.checked = v;
		this.dispatchEvent(new Event('change', {bubbles: true}));
	}`, checked)
	if err != nil {
		return fmt.Errorf("roddom: set checked: %w", err)
	}
	return nil
}

// detachedNode is returned when the page root cannot be resolved.
type detachedNode struct{}

func (detachedNode) Text() string                           { return "" }
func (detachedNode) Attr(string) string                     { return "" }
func (detachedNode) Tag() string                            { return "" }
func (detachedNode) QueryAll(dom.Convention) []dom.Node     { return nil }
func (detachedNode) Closest(dom.Convention) dom.Node        { return nil }
func (detachedNode) Attached() bool                         { return false }
func (detachedNode) Click(context.Context) error            { return fmt.Errorf("roddom: detached") }
func (detachedNode) Fill(context.Context, string) error     { return fmt.Errorf("roddom: detached") }
func (detachedNode) SetChecked(context.Context, bool) error { return fmt.Errorf("roddom: detached") }
