package indexer

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/deeprat/portfolio/pkg/models"
)

const (
	// ChunkSize is the naive window length in characters.
	ChunkSize = 500
	// ChunkOverlap is how far each window steps back from the previous end.
	ChunkOverlap = 100
	// MinChunkLength is the length a trimmed chunk must exceed to be kept.
	MinChunkLength = 50

	boundaryLookback   = 50
	paragraphLookahead = 100
	sentenceLookahead  = 50

	paragraphBreak = "\n\n"
	sentenceBreak  = ". "
)

var blankRuns = regexp.MustCompile(`\n{3,}`)

var lineEndings = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// Normalize converts line endings to "\n", collapses three or more newlines
// into a blank line and trims the result. Normalize(Normalize(s)) == Normalize(s).
func Normalize(text string) string {
	text = lineEndings.Replace(text)
	text = blankRuns.ReplaceAllString(text, paragraphBreak)
	return strings.TrimSpace(text)
}

// Chunker splits documents into overlapping windows. Lengths and offsets are
// counted in characters (runes), not bytes.
type Chunker struct {
	Size    int
	Overlap int
}

// NewChunker returns a Chunker with the default window parameters.
func NewChunker() Chunker {
	return Chunker{Size: ChunkSize, Overlap: ChunkOverlap}
}

// Chunk splits one document into chunks in document order. Each window ends
// at a nearby paragraph or sentence break when one is in range, and the next
// window starts Overlap characters before that end.
func (c Chunker) Chunk(text, filename string) []models.Chunk {
	clean := []rune(Normalize(text))
	n := len(clean)
	stem := docStem(filename)

	chunks := []models.Chunk{}
	start, seq := 0, 0
	for start < n {
		end := start + c.Size
		if end < n {
			if p := indexFrom(clean, paragraphBreak, end-boundaryLookback); p != -1 && p < end+paragraphLookahead {
				end = p + len(paragraphBreak)
			} else if s := indexFrom(clean, sentenceBreak, end-boundaryLookback); s != -1 && s < end+sentenceLookahead {
				end = s + len(sentenceBreak)
			}
		}

		content := strings.TrimSpace(string(clean[start:min(end, n)]))
		if utf8.RuneCountInString(content) > MinChunkLength {
			chunks = append(chunks, models.Chunk{
				ID:       stem + "_chunk_" + strconv.Itoa(seq),
				Content:  content,
				Filename: filename,
			})
			seq++
		}

		if end >= n {
			break
		}
		next := max(end-c.Overlap, 0)
		if next <= start {
			// overlap as large as the window would never advance
			next = end
		}
		start = next
	}
	return chunks
}

// indexFrom returns the rune index of the first occurrence of needle in s at
// or after from, or -1.
func indexFrom(s []rune, needle string, from int) int {
	nr := []rune(needle)
	if from < 0 {
		from = 0
	}
	for i := from; i+len(nr) <= len(s); i++ {
		match := true
		for j, r := range nr {
			if s[i+j] != r {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// docStem is the filename without its extension.
func docStem(filename string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}
