// Package extract turns the monitored document into normalised loads.
//
// Extraction runs an ordered list of strategies against the source; the
// first strategy that yields at least one load wins. Strategies are never
// merged — mixing loads from two different markup interpretations produces
// inconsistent shapes. A strategy that panics is recovered and logged, and
// the next one is attempted. When every strategy comes back empty the cycle
// reports zero loads, which is not an error: boards go empty all the time.
package extract

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/boardwatch/board"
	"github.com/hazyhaar/boardwatch/dom"
)

// Conventions name the selector unions each strategy queries. The board's
// markup is unversioned, so every entry is a loose union with defaults
// that can be overridden per target in the engine config.
type Conventions struct {
	// Strategy A: distinguished item containers with nested field nodes.
	Item        dom.Convention `yaml:"item"`
	Origin      dom.Convention `yaml:"origin"`
	Destination dom.Convention `yaml:"destination"`
	Price       dom.Convention `yaml:"price"`
	Stops       dom.Convention `yaml:"stops"`
	Deadhead    dom.Convention `yaml:"deadhead"`
	Distance    dom.Convention `yaml:"distance"`
	Schedule    dom.Convention `yaml:"schedule"`

	// Strategy B: generic tabular rows and their cells.
	Row  dom.Convention `yaml:"row"`
	Cell dom.Convention `yaml:"cell"`

	// Strategy C: the ancestor that plausibly bounds one item, walked up
	// from an origin-like anchor.
	ItemAncestor dom.Convention `yaml:"item_ancestor"`

	// IDAttrs are tried in order on the item container for a stable id.
	IDAttrs []string `yaml:"id_attrs"`
}

// Defaults returns the conventions for a generic load board.
func Defaults() Conventions {
	return Conventions{
		Item:         dom.Convention{"[data-load-id]", ".load-card", ".load-item", "[role=listitem]"},
		Origin:       dom.Convention{".origin", "[data-field=origin]", ".pickup-city"},
		Destination:  dom.Convention{".destination", "[data-field=destination]", ".dropoff-city"},
		Price:        dom.Convention{".price", "[data-field=price]", ".payout"},
		Stops:        dom.Convention{".stops", "[data-field=stops]", ".stop-count"},
		Deadhead:     dom.Convention{".deadhead", "[data-field=deadhead]"},
		Distance:     dom.Convention{".distance", "[data-field=distance]", ".miles"},
		Schedule:     dom.Convention{".schedule", "[data-field=schedule]", ".pickup-time"},
		Row:          dom.Convention{"table tr", "[role=row]"},
		Cell:         dom.Convention{"td", "[role=cell]"},
		ItemAncestor: dom.Convention{"[data-load-id]", "tr", "li", ".load-card", ".load-item"},
		IDAttrs:      []string{"data-load-id", "data-id", "id"},
	}
}

// minColumns is the fewest cells a tabular row must have for strategy B
// to treat it as an item. Shorter rows are headers or separators.
const minColumns = 5

// Fixed column positions for strategy B.
const (
	colOrigin = iota
	colDestination
	colSchedule
	colDistance
	colPrice
	colStops
	colDeadhead
)

// Extractor runs the strategy chain.
type Extractor struct {
	conv   Conventions
	logger *slog.Logger
	clean  *bluemonday.Policy
}

// New creates an Extractor. Zero-valued conventions fall back to Defaults.
func New(conv Conventions, logger *slog.Logger) *Extractor {
	def := Defaults()
	if conv.Item == nil {
		conv.Item = def.Item
	}
	if conv.Origin == nil {
		conv.Origin = def.Origin
	}
	if conv.Destination == nil {
		conv.Destination = def.Destination
	}
	if conv.Price == nil {
		conv.Price = def.Price
	}
	if conv.Stops == nil {
		conv.Stops = def.Stops
	}
	if conv.Deadhead == nil {
		conv.Deadhead = def.Deadhead
	}
	if conv.Distance == nil {
		conv.Distance = def.Distance
	}
	if conv.Schedule == nil {
		conv.Schedule = def.Schedule
	}
	if conv.Row == nil {
		conv.Row = def.Row
	}
	if conv.Cell == nil {
		conv.Cell = def.Cell
	}
	if conv.ItemAncestor == nil {
		conv.ItemAncestor = def.ItemAncestor
	}
	if conv.IDAttrs == nil {
		conv.IDAttrs = def.IDAttrs
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		conv:   conv,
		logger: logger,
		clean:  bluemonday.StrictPolicy(),
	}
}

// strategy is one tagged extraction variant. The dispatcher owns all
// failure handling, so strategies stay free of recover boilerplate.
type strategy struct {
	name string
	run  func(src dom.Source) []board.Load
}

// Extract runs the strategy chain against the source.
func (e *Extractor) Extract(src dom.Source) []board.Load {
	strategies := []strategy{
		{"containers", e.extractContainers},
		{"tabular", e.extractTabular},
		{"anchored", e.extractAnchored},
	}

	for _, s := range strategies {
		loads, err := e.runStrategy(s, src)
		if err != nil {
			e.logger.Warn("extract: strategy failed", "strategy", s.name, "error", err)
			continue
		}
		if len(loads) > 0 {
			e.logger.Debug("extract: strategy matched", "strategy", s.name, "loads", len(loads))
			return loads
		}
	}
	return nil
}

func (e *Extractor) runStrategy(s strategy, src dom.Source) (loads []board.Load, err error) {
	defer func() {
		if r := recover(); r != nil {
			loads = nil
			err = &strategyPanic{strategy: s.name, value: r}
		}
	}()
	return s.run(src), nil
}

// extractContainers is strategy A: distinguished item containers with
// nested field nodes.
func (e *Extractor) extractContainers(src dom.Source) []board.Load {
	items := src.QueryAll(e.conv.Item)
	loads := make([]board.Load, 0, len(items))
	for _, item := range items {
		l := board.Load{
			Origin:      e.textOf(item, e.conv.Origin),
			Destination: e.textOf(item, e.conv.Destination),
			Schedule:    e.textOf(item, e.conv.Schedule),
			Price:       ParseNumber(e.textOf(item, e.conv.Price)),
			Distance:    ParseNumber(e.textOf(item, e.conv.Distance)),
			Deadhead:    ParseNumber(e.textOf(item, e.conv.Deadhead)),
			Stops:       int(ParseNumber(e.textOf(item, e.conv.Stops))),
			SourceRef:   item,
			ObservedAt:  time.Now(),
		}
		l.ID = e.identify(item, l)
		loads = append(loads, l)
	}
	return loads
}

// extractTabular is strategy B: generic rows of a tabular region, fields
// mapped by fixed column position. Rows with fewer than minColumns cells
// are skipped.
func (e *Extractor) extractTabular(src dom.Source) []board.Load {
	rows := src.QueryAll(e.conv.Row)
	var loads []board.Load
	for _, row := range rows {
		cells := row.QueryAll(e.conv.Cell)
		if len(cells) < minColumns {
			continue
		}
		cell := func(i int) string {
			if i >= len(cells) {
				return ""
			}
			return e.cleanText(cells[i].Text())
		}
		l := board.Load{
			Origin:      cell(colOrigin),
			Destination: cell(colDestination),
			Schedule:    cell(colSchedule),
			Distance:    ParseNumber(cell(colDistance)),
			Price:       ParseNumber(cell(colPrice)),
			Stops:       int(ParseNumber(cell(colStops))),
			Deadhead:    ParseNumber(cell(colDeadhead)),
			SourceRef:   row,
			ObservedAt:  time.Now(),
		}
		l.ID = e.identify(row, l)
		loads = append(loads, l)
	}
	return loads
}

// extractAnchored is strategy C, the last resort: find anything origin-like,
// walk up to the nearest plausible item ancestor, and scavenge the remaining
// fields from inside it. Missing numerics resolve to zero, missing text to "".
func (e *Extractor) extractAnchored(src dom.Source) []board.Load {
	anchors := src.QueryAll(e.conv.Origin)
	var loads []board.Load
	seen := make(map[string]bool)
	for _, anchor := range anchors {
		item := anchor.Closest(e.conv.ItemAncestor)
		if item == nil {
			continue
		}
		l := board.Load{
			Origin:      e.cleanText(anchor.Text()),
			Destination: e.textOf(item, e.conv.Destination),
			Schedule:    e.textOf(item, e.conv.Schedule),
			Price:       ParseNumber(e.textOf(item, e.conv.Price)),
			Distance:    ParseNumber(e.textOf(item, e.conv.Distance)),
			Deadhead:    ParseNumber(e.textOf(item, e.conv.Deadhead)),
			Stops:       int(ParseNumber(e.textOf(item, e.conv.Stops))),
			SourceRef:   item,
			ObservedAt:  time.Now(),
		}
		l.ID = e.identify(item, l)
		if seen[l.ID] {
			continue
		}
		seen[l.ID] = true
		loads = append(loads, l)
	}
	return loads
}

// identify derives the stable id: source attribute first, content hash last.
func (e *Extractor) identify(item dom.Node, l board.Load) string {
	for _, attr := range e.conv.IDAttrs {
		if v := item.Attr(attr); v != "" {
			return v
		}
	}
	return board.DeriveID(l.Origin, l.Destination, l.Schedule)
}

// textOf returns the cleaned text of the first descendant matching conv.
func (e *Extractor) textOf(scope dom.Node, conv dom.Convention) string {
	nodes := scope.QueryAll(conv)
	if len(nodes) == 0 {
		return ""
	}
	return e.cleanText(nodes[0].Text())
}

// cleanText strips any markup an adversarial board smuggles into field
// text and collapses whitespace.
func (e *Extractor) cleanText(s string) string {
	s = e.clean.Sanitize(s)
	return strings.Join(strings.Fields(s), " ")
}

type strategyPanic struct {
	strategy string
	value    any
}

func (p *strategyPanic) Error() string {
	return fmt.Sprintf("%s strategy panicked: %v", p.strategy, p.value)
}
