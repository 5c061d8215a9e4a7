package chunker

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/fyrsmithlabs/docqa/internal/document"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func mustDoc(t testing.TB, pages ...string) *document.Document {
	t.Helper()
	ps := make([]document.Page, len(pages))
	for i, p := range pages {
		ps[i] = document.Page{Number: i + 1, Text: p}
	}
	doc, err := document.New("policy.md", "text/markdown", ps)
	require.NoError(t, err)
	return doc
}

func TestChunk_ThreePagesWithSections(t *testing.T) {
	doc := mustDoc(t,
		"# Introduction\n\nThis agreement describes the services provided by Acme to Globex in detail.",
		"# Payment Terms\n\nInvoices are payable within thirty days of receipt by the customer.",
		"# Termination\n\nEither party may terminate this agreement with ninety days written notice.",
	)

	chunks, err := New(DefaultConfig()).Chunk(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	wantSections := []string{"Introduction", "Payment Terms", "Termination"}
	for i, c := range chunks {
		assert.Equal(t, i+1, c.Page)
		assert.Equal(t, i, c.Ordinal)
		assert.Equal(t, wantSections[i], c.Section)
		assert.Equal(t, fmt.Sprintf("%s:%05d", doc.ID, i), c.ID)
		assert.True(t, strings.HasPrefix(c.Text, wantSections[i]+"\n"), c.Text)
		assert.Equal(t, doc.ID, c.DocumentID)
		assert.Equal(t, "policy.md", c.Source)
	}
}

func TestChunk_SectionCarriesAcrossPages(t *testing.T) {
	doc := mustDoc(t,
		"TERMINATION\n\nEither party may terminate for material breach that is not cured within thirty days.",
		"Upon termination all outstanding invoices become immediately due and payable to the vendor.",
	)

	chunks, err := New(DefaultConfig()).Chunk(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "TERMINATION", chunks[0].Section)
	assert.Equal(t, "TERMINATION", chunks[1].Section)
	assert.Equal(t, 2, chunks[1].Page)
	assert.False(t, strings.HasPrefix(chunks[1].Text, "TERMINATION"))
}

func TestChunk_HeadingDetection(t *testing.T) {
	tests := []struct {
		line       string
		standalone bool
		want       string
		ok         bool
	}{
		{"## Payment Terms", false, "Payment Terms", true},
		{"1.2 Scope of Services", false, "1.2 Scope of Services", true},
		{"Section 3", false, "Section 3", true},
		{"Article IV: Warranties", false, "Article IV: Warranties", true},
		{"Limitation of Liability", true, "Limitation of Liability", true},
		{"Limitation of Liability", false, "", false},
		{"GOVERNING LAW", true, "GOVERNING LAW", true},
		{"This is a sentence.", true, "", false},
		{"30 days notice applies", false, "", false},
		{"the quick brown fox", true, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := headingText(tt.line, tt.standalone)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChunk_RemovesTableOfContents(t *testing.T) {
	doc := mustDoc(t, "Contents\n\n1. Introduction ........ 3\nTermination . . . . . 12\nPage 1 of 9\n\n"+
		"The service is provided as described in the attached statement of work for the full term.")

	chunks, err := New(DefaultConfig()).Chunk(doc)
	require.NoError(t, err)
	for _, c := range chunks {
		assert.NotContains(t, c.Text, "....")
		assert.NotContains(t, c.Text, ". . . .")
		assert.NotContains(t, c.Text, "Page 1 of 9")
	}
}

func TestChunk_LongParagraphSplitsAtSentences(t *testing.T) {
	var sentences []string
	for i := 0; i < 40; i++ {
		sentences = append(sentences, fmt.Sprintf("Clause %d requires written notice to the other party.", i))
	}
	doc := mustDoc(t, strings.Join(sentences, " "))

	c := New(Config{MaxChars: 200, MinChars: 20})
	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), 200)
		assert.True(t, strings.HasSuffix(ch.Text, "."), ch.Text)
	}
}

func TestChunk_HardWrapsLongSentence(t *testing.T) {
	doc := mustDoc(t, strings.Repeat("word ", 100)+strings.Repeat("x", 130))
	chunks, err := New(Config{MaxChars: 60, MinChars: 0}).Chunk(doc)
	require.NoError(t, err)
	for _, ch := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), 60)
	}
}

func TestChunk_ShortTailFilledFromPredecessor(t *testing.T) {
	long := strings.Repeat("The supplier shall maintain insurance coverage. ", 4)
	doc := mustDoc(t, long+"\n\nOK then.")

	chunks, err := New(Config{MaxChars: 150, MinChars: 60}).Chunk(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	last := chunks[len(chunks)-1]
	assert.True(t, strings.HasSuffix(last.Text, "OK then."))
	assert.GreaterOrEqual(t, utf8.RuneCountInString(last.Text), 60)
	for _, ch := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), 150)
		assert.GreaterOrEqual(t, utf8.RuneCountInString(ch.Text), 60)
	}
}

func TestChunk_ShortTailKeptWhenPredecessorCannotGive(t *testing.T) {
	long := strings.TrimSpace(strings.Repeat("The supplier shall maintain insurance coverage. ", 3))
	doc := mustDoc(t, long+"\n\nOK then.")

	chunks, err := New(Config{MaxChars: 150, MinChars: 30}).Chunk(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, long, chunks[0].Text)
	assert.Equal(t, "OK then.", chunks[1].Text)
}

func TestChunk_HeadingCountsAgainstMaxChars(t *testing.T) {
	tests := []struct {
		name    string
		heading string
		body    string
	}{
		{"paragraph just under the limit", "# Termination", strings.Repeat("a", 790)},
		{"sentences just under the limit", "# Termination", strings.Repeat("Notice is due in writing. ", 30) + "Really now."},
		{"long heading", "# " + strings.Repeat("Scope ", 13), strings.TrimSpace(strings.Repeat("word ", 158))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := mustDoc(t, tt.heading+"\n\n"+tt.body)
			chunks, err := New(Config{MaxChars: 800, MinChars: 50}).Chunk(doc)
			require.NoError(t, err)
			require.NotEmpty(t, chunks)
			assert.True(t, strings.HasPrefix(chunks[0].Text, chunks[0].Section[:5]), chunks[0].Text)
			for _, ch := range chunks {
				assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), 800)
			}
		})
	}
}

func TestChunk_OnlyChunkOfSectionKept(t *testing.T) {
	doc := mustDoc(t, "# Notes\n\nShort.")
	chunks, err := New(DefaultConfig()).Chunk(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Notes\nShort.", chunks[0].Text)
}

func TestChunk_EmptyDocument(t *testing.T) {
	c := New(DefaultConfig())

	_, err := c.Chunk(nil)
	assert.ErrorIs(t, err, document.ErrEmptyDocument)

	_, err = c.Chunk(&document.Document{ID: "d", SourceName: "x", Pages: []document.Page{{Number: 1, Text: "  "}}})
	assert.ErrorIs(t, err, document.ErrEmptyDocument)

	// Only noise lines.
	doc := &document.Document{ID: "d", SourceName: "toc.txt", RawText: "....", Pages: []document.Page{{Number: 1, Text: "........\nPage 2"}}}
	_, err = c.Chunk(doc)
	assert.ErrorIs(t, err, document.ErrEmptyDocument)
}

func TestChunk_SummaryAndQuality(t *testing.T) {
	doc := mustDoc(t, "The vendor must deliver goods within ten days. Late deliveries incur a penalty of two percent. A third sentence is ignored here.")
	chunks, err := New(DefaultConfig()).Chunk(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "The vendor must deliver goods within ten days. Late deliveries incur a penalty of two percent.", chunks[0].Summary)
	assert.Greater(t, chunks[0].Quality, 0.7)
	assert.LessOrEqual(t, chunks[0].Quality, 1.0)
}

func TestParseChunkID(t *testing.T) {
	docID, ord, err := ParseChunkID(ChunkID("9b2c-doc", 42))
	require.NoError(t, err)
	assert.Equal(t, "9b2c-doc", docID)
	assert.Equal(t, 42, ord)

	_, _, err = ParseChunkID("nocolon")
	assert.Error(t, err)
	_, _, err = ParseChunkID("doc:abc")
	assert.Error(t, err)
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences(`He said "stop." Then left! Did he, e.g. return? Yes`)
	assert.Equal(t, []string{`He said "stop."`, "Then left!", "Did he, e.g. return?", "Yes"}, got)
}

func TestChunk_Deterministic(t *testing.T) {
	vocab := []string{"alpha", "Beta", "gamma.", "# Heading", "\n", "\n\n", "TERMS", "1.2 Scope", "delta?", "epsilon", "........ 4"}
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 4).Draw(rt, "pages")
		pages := make([]document.Page, n)
		for i := range pages {
			words := rapid.SliceOfN(rapid.SampledFrom(vocab), 0, 200).Draw(rt, fmt.Sprintf("words%d", i))
			pages[i] = document.Page{Number: i + 1, Text: strings.Join(words, " ")}
		}
		doc, err := document.New("gen.txt", "text/plain", pages)
		if err != nil {
			return
		}

		c := New(DefaultConfig())
		a, errA := c.Chunk(doc)
		b, errB := c.Chunk(doc)
		if errA != nil {
			require.Error(rt, errB)
			return
		}
		require.NoError(rt, errB)
		require.Equal(rt, a, b)

		cfg := c.Config()
		for i, ch := range a {
			require.Equal(rt, i, ch.Ordinal)
			require.Equal(rt, ChunkID(doc.ID, i), ch.ID)
			require.NotEmpty(rt, strings.TrimSpace(ch.Text))
			require.GreaterOrEqual(rt, ch.Page, 1)
			require.LessOrEqual(rt, ch.Page, n)
			require.LessOrEqual(rt, utf8.RuneCountInString(ch.Text), cfg.MaxChars)
			if i > 0 {
				require.GreaterOrEqual(rt, ch.Page, a[i-1].Page)
			}
		}
	})
}
