package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/docqa/internal/config"
	"github.com/fyrsmithlabs/docqa/internal/document"
)

// Config controls chunk sizing, in characters.
type Config struct {
	MaxChars int
	MinChars int
}

// DefaultConfig returns 800/50.
func DefaultConfig() Config {
	return Config{MaxChars: 800, MinChars: 50}
}

// FromAppConfig maps the chunking config section.
func FromAppConfig(app config.ChunkingConfig) Config {
	return Config{MaxChars: app.MaxChars, MinChars: app.MinChars}
}

// Chunker splits documents. It is stateless and safe for concurrent use.
type Chunker struct {
	cfg Config
}

// New creates a Chunker, replacing out-of-range sizes with defaults.
func New(cfg Config) *Chunker {
	def := DefaultConfig()
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = def.MaxChars
	}
	if cfg.MinChars < 0 || cfg.MinChars >= cfg.MaxChars {
		cfg.MinChars = 0
	}
	return &Chunker{cfg: cfg}
}

// Config returns the effective configuration.
func (c *Chunker) Config() Config { return c.cfg }

type segment struct {
	section    string
	heading    string
	paragraphs []string
}

type unit struct {
	text string
	sep  string
}

// Chunk splits doc into chunks ordered by page then position. Sections
// carry across pages until the next heading; a chunk never spans a page or
// a section. Identical documents yield identical chunks.
func (c *Chunker) Chunk(doc *document.Document) ([]Chunk, error) {
	if doc == nil || strings.TrimSpace(doc.RawText) == "" && !hasPageText(doc) {
		source := ""
		if doc != nil {
			source = doc.SourceName
		}
		return nil, &document.IngestionError{Source: source, Reason: "document text is empty", Err: document.ErrEmptyDocument}
	}

	var (
		out     []Chunk
		section string
	)
	for _, page := range doc.Pages {
		for _, seg := range c.segments(page.Text, &section) {
			for _, text := range c.pack(seg) {
				out = append(out, Chunk{
					ID:         ChunkID(doc.ID, len(out)),
					DocumentID: doc.ID,
					Source:     doc.SourceName,
					Text:       text,
					Page:       page.Number,
					Section:    seg.section,
					Ordinal:    len(out),
					Summary:    Summary(text),
					Quality:    Quality(text),
				})
			}
		}
	}

	if len(out) == 0 {
		return nil, &document.IngestionError{Source: doc.SourceName, Reason: "no page yielded any chunk", Err: document.ErrEmptyDocument}
	}
	return out, nil
}

func hasPageText(doc *document.Document) bool {
	for _, p := range doc.Pages {
		if strings.TrimSpace(p.Text) != "" {
			return true
		}
	}
	return false
}

// segments groups a page's paragraphs by section. section holds the
// running section title and is updated when a heading is seen.
func (c *Chunker) segments(text string, section *string) []segment {
	segs := []segment{{section: *section}}
	var para []string
	flush := func() {
		if len(para) > 0 {
			last := &segs[len(segs)-1]
			last.paragraphs = append(last.paragraphs, strings.Join(para, "\n"))
			para = nil
		}
	}

	standalone := true
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			flush()
			standalone = true
			continue
		}
		if isNoiseLine(line) {
			continue
		}
		if title, ok := headingText(line, standalone); ok {
			flush()
			*section = title
			segs = append(segs, segment{section: title, heading: title})
			standalone = false
			continue
		}
		para = append(para, line)
		standalone = false
	}
	flush()

	out := segs[:0]
	for _, s := range segs {
		if s.heading != "" || len(s.paragraphs) > 0 {
			out = append(out, s)
		}
	}
	return out
}

// pack greedily fills chunks up to MaxChars. Paragraphs longer than the
// limit are split into sentences, and sentences into word-wrapped pieces.
// The first chunk of a headed segment starts with the heading, and the
// heading counts against that chunk's limit.
func (c *Chunker) pack(seg segment) []string {
	max := c.cfg.MaxChars
	prefix := clipRunes(seg.heading, max/2)
	first := max
	if prefix != "" {
		first = max - utf8.RuneCountInString(prefix) - 1
	}
	if first < 1 {
		prefix, first = "", max
	}

	var (
		groups [][]unit
		cur    []unit
		curLen int
	)
	budget := first
	for _, u := range c.units(seg.paragraphs) {
		ul := utf8.RuneCountInString(u.text)
		switch {
		case curLen == 0 && ul > budget:
			// Only the headed first chunk has a budget below MaxChars.
			pieces := hardWrap(u.text, budget)
			groups = append(groups, []unit{{text: pieces[0]}})
			budget = max
			if rest := strings.Join(pieces[1:], " "); rest != "" {
				cur, curLen = []unit{{text: rest, sep: " "}}, utf8.RuneCountInString(rest)
			}
		case curLen == 0:
			cur, curLen = []unit{u}, ul
		case curLen+len(u.sep)+ul <= budget:
			cur = append(cur, u)
			curLen += len(u.sep) + ul
		default:
			groups = append(groups, cur)
			cur, curLen = []unit{u}, ul
			budget = max
		}
	}
	if curLen > 0 {
		groups = append(groups, cur)
	}

	groups = c.fillShort(groups)
	texts := make([]string, len(groups))
	for i, g := range groups {
		texts[i] = joinUnits(g)
	}
	switch {
	case seg.heading == "":
	case len(texts) == 0:
		texts = []string{clipRunes(seg.heading, max)}
	case prefix != "":
		texts[0] = prefix + "\n" + texts[0]
	}
	return texts
}

func (c *Chunker) units(paragraphs []string) []unit {
	max := c.cfg.MaxChars
	var out []unit
	for _, p := range paragraphs {
		if utf8.RuneCountInString(p) <= max {
			out = append(out, unit{text: p, sep: "\n\n"})
			continue
		}
		sep := "\n\n"
		for _, s := range splitSentences(p) {
			if utf8.RuneCountInString(s) <= max {
				out = append(out, unit{text: s, sep: sep})
				sep = " "
				continue
			}
			for _, piece := range hardWrap(s, max) {
				out = append(out, unit{text: piece, sep: sep})
				sep = " "
			}
		}
	}
	return out
}

// fillShort tops up chunks under MinChars with the trailing units of their
// predecessor in the same segment, as long as both sides stay within their
// limits. A chunk that cannot be topped up is kept as is, so text is never
// dropped and MaxChars always holds.
func (c *Chunker) fillShort(groups [][]unit) [][]unit {
	min, max := c.cfg.MinChars, c.cfg.MaxChars
	if min == 0 || len(groups) < 2 {
		return groups
	}
	for i := 1; i < len(groups); i++ {
		prev, g := groups[i-1], groups[i]
		for unitsLen(g) < min && len(prev) > 1 {
			moved := append([]unit{prev[len(prev)-1]}, g...)
			rest := prev[:len(prev)-1]
			if unitsLen(moved) > max || unitsLen(rest) < min {
				break
			}
			prev, g = rest, moved
		}
		groups[i-1], groups[i] = prev, g
	}
	return groups
}

// unitsLen is the rune length of the units joined by their separators.
func unitsLen(us []unit) int {
	n := 0
	for i, u := range us {
		if i > 0 {
			n += len(u.sep)
		}
		n += utf8.RuneCountInString(u.text)
	}
	return n
}

func joinUnits(us []unit) string {
	var b strings.Builder
	for i, u := range us {
		if i > 0 {
			b.WriteString(u.sep)
		}
		b.WriteString(u.text)
	}
	return b.String()
}

// clipRunes cuts s to at most n runes.
func clipRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:n]))
}
