// Package markdown provides styled markdown rendering for the TUI.
package markdown

import (
	"context"
	"strconv"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/zjrosen/statusrelay/internal/cachemanager"
)

// noMarginStyle is a JSON style that removes document margins.
const noMarginStyle = `{
	"document": {
		"margin": 0,
		"block_prefix": "",
		"block_suffix": ""
	}
}`

// Renderer wraps glamour with statusrelay-specific configuration.
type Renderer struct {
	renderer *glamour.TermRenderer
	width    int
	style    string
}

// New creates a markdown renderer with the given width and style.
// style is "dark", "light" or "notty". Defaults to "dark" if empty.
// A fixed style avoids the terminal background query WithAutoStyle() makes,
// whose reply would otherwise leak into the input stream.
func New(width int, style string) (*Renderer, error) {
	if style == "" {
		style = "dark"
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithStylePath(style),
		glamour.WithStylesFromJSONBytes([]byte(noMarginStyle)),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil, err
	}
	return &Renderer{renderer: r, width: width, style: style}, nil
}

// Width returns the configured word wrap width.
func (r *Renderer) Width() int {
	return r.width
}

// Style returns the glamour style name.
func (r *Renderer) Style() string {
	return r.style
}

// Render transforms markdown to styled terminal output.
func (r *Renderer) Render(markdown string) (string, error) {
	return r.renderer.Render(markdown)
}

// Cache hands out one renderer per width so resizes do not rebuild glamour
// on every frame.
type Cache struct {
	style     string
	renderers cachemanager.CacheManager[string, *Renderer]
}

// NewCache creates a renderer cache for style. Unused widths expire after
// ten minutes.
func NewCache(style string) *Cache {
	return &Cache{
		style:     style,
		renderers: cachemanager.NewInMemoryCacheManager[string, *Renderer]("markdown", 10*time.Minute, time.Minute),
	}
}

// Get returns the renderer for width, creating it on first use.
func (c *Cache) Get(width int) (*Renderer, error) {
	ctx := context.Background()
	key := strconv.Itoa(width)
	if r, ok := c.renderers.Get(ctx, key); ok {
		return r, nil
	}
	r, err := New(width, c.style)
	if err != nil {
		return nil, err
	}
	c.renderers.Set(ctx, key, r, cachemanager.DefaultExpiration)
	return r, nil
}
