package chunking

import (
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
)

const (
	DefaultChunkSize = 10000
	DefaultOverlap   = 1000

	pageSeparator = "\n\n"
)

// Splitter cuts text into windows of at most ChunkSize runes. Consecutive
// windows share at least Overlap runes and together cover the input without gaps.
type Splitter struct {
	ChunkSize   int
	Overlap     int
	AcrossPages bool
}

type Option func(*Splitter)

// WithAcrossPages joins the pages of a source before splitting, so a chunk may span a page break.
func WithAcrossPages(enabled bool) Option {
	return func(s *Splitter) {
		s.AcrossPages = enabled
	}
}

func NewSplitter(chunkSize, overlap int, opts ...Option) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	s := &Splitter{
		ChunkSize: chunkSize,
		Overlap:   overlap,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Splitter) Split(text string) []domain.Chunk {
	return s.cut(text, "", nil, 0)
}

// SplitUnits splits page units. By default every page is split on its own and
// page breaks are always chunk boundaries. Blank pages yield no chunks.
func (s *Splitter) SplitUnits(units []domain.TextUnit) []domain.Chunk {
	if s.AcrossPages {
		return s.splitJoined(units)
	}

	var out []domain.Chunk
	for _, unit := range units {
		if strings.TrimSpace(unit.Text) == "" {
			continue
		}
		page := unit.Page
		out = append(out, s.cut(unit.Text, unit.SourceID, func(int, int) (int, int) { return page, page }, len(out))...)
	}
	return out
}

func (s *Splitter) splitJoined(units []domain.TextUnit) []domain.Chunk {
	var out []domain.Chunk
	for i := 0; i < len(units); {
		sourceID := units[i].SourceID

		var (
			builder strings.Builder
			starts  []int
			pages   []int
			offset  int
		)
		for ; i < len(units) && units[i].SourceID == sourceID; i++ {
			if strings.TrimSpace(units[i].Text) == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString(pageSeparator)
				offset += len([]rune(pageSeparator))
			}
			starts = append(starts, offset)
			pages = append(pages, units[i].Page)
			builder.WriteString(units[i].Text)
			offset += len([]rune(units[i].Text))
		}
		if len(starts) == 0 {
			continue
		}

		pageAt := func(pos int) int {
			idx := sort.Search(len(starts), func(j int) bool { return starts[j] > pos }) - 1
			if idx < 0 {
				idx = 0
			}
			return pages[idx]
		}
		out = append(out, s.cut(builder.String(), sourceID, func(start, end int) (int, int) {
			return pageAt(start), pageAt(end - 1)
		}, len(out))...)
	}
	return out
}

func (s *Splitter) cut(text, sourceID string, pageRange func(start, end int) (int, int), firstOrdinal int) []domain.Chunk {
	runes := []rune(text)
	spans := s.spans(runes)
	if len(spans) == 0 {
		return nil
	}

	out := make([]domain.Chunk, 0, len(spans))
	for i, sp := range spans {
		body := string(runes[sp.start:sp.end])
		chunk := domain.Chunk{
			SourceID: sourceID,
			Ordinal:  firstOrdinal + i,
			Start:    sp.start,
			End:      sp.end,
			Text:     body,
		}
		if pageRange != nil {
			chunk.PageStart, chunk.PageEnd = pageRange(sp.start, sp.end)
		}
		chunk.ID = chunkID(sourceID, chunk.PageStart, sp.start, body)
		out = append(out, chunk)
	}
	return out
}

type span struct {
	start int
	end   int
}

func (s *Splitter) spans(runes []rune) []span {
	n := len(runes)
	if n == 0 {
		return nil
	}

	var (
		out     []span
		start   int
		prevEnd int
	)
	for {
		if n-start <= s.ChunkSize {
			return append(out, span{start: start, end: n})
		}

		hardEnd := start + s.ChunkSize
		// Never end inside the previous chunk and keep room for the overlap.
		minEnd := max(start+s.Overlap+1, start+s.ChunkSize/2, prevEnd+1)
		end := lastBoundary(runes, minEnd, hardEnd)
		out = append(out, span{start: start, end: end})

		next := end - s.Overlap
		if s.Overlap > 0 {
			lo := max(start+1, next-s.Overlap/2, end-s.ChunkSize+1)
			next = lastBoundary(runes, lo, next)
		}
		prevEnd = end
		start = next
	}
}

// boundary levels in order of preference. Each reports whether a cut right before pos is natural.
var boundaries = []func(runes []rune, pos int) bool{
	func(r []rune, pos int) bool { return pos >= 2 && r[pos-1] == '\n' && r[pos-2] == '\n' },
	func(r []rune, pos int) bool { return pos >= 1 && r[pos-1] == '\n' },
	func(r []rune, pos int) bool {
		if pos < 2 || !unicode.IsSpace(r[pos-1]) {
			return false
		}
		switch r[pos-2] {
		case '.', '!', '?':
			return true
		}
		return false
	},
	func(r []rune, pos int) bool { return pos >= 1 && unicode.IsSpace(r[pos-1]) },
}

// lastBoundary returns the largest position in [lo, hi] at the most preferred
// boundary level that occurs there, or hi when the window has no boundary at all.
func lastBoundary(runes []rune, lo, hi int) int {
	if lo > hi {
		return hi
	}
	for _, isBoundary := range boundaries {
		for pos := hi; pos >= lo; pos-- {
			if isBoundary(runes, pos) {
				return pos
			}
		}
	}
	return hi
}

func chunkID(sourceID string, page, start int, body string) string {
	name := sourceID + "|" + strconv.Itoa(page) + "|" + strconv.Itoa(start) + "|" + body
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}
