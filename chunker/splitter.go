package chunker

import "strings"

// splitter recursively breaks text on a priority-ordered separator list,
// always preferring the highest-priority separator that keeps pieces
// within the size bound, then merges adjacent pieces back together with
// a configured character overlap.
type splitter struct {
	chunkSize  int
	overlap    int
	separators []string
}

// markdownSeparators orders boundaries from section level down to single
// characters so that splits land on semantic boundaries first.
var markdownSeparators = []string{
	"\n\n\n",
	"\n\n",
	"\n# ",
	"\n## ",
	"\n### ",
	". ",
	";\n",
	", ",
	"\n",
	" ",
	"",
}

var technicalSeparators = []string{"\n\n\n", "\n\n", ". ", "\n", " ", ""}

var narrativeSeparators = []string{"\n\n", ". ", "\n", " ", ""}

func newSplitter(chunkSize, overlap int, separators []string) *splitter {
	if len(separators) == 0 {
		separators = markdownSeparators
	}
	return &splitter{chunkSize: chunkSize, overlap: overlap, separators: separators}
}

func (s *splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.split(text, s.separators)
}

func (s *splitter) split(text string, separators []string) []string {
	separator := ""
	var remaining []string
	for i, candidate := range separators {
		if candidate == "" {
			break
		}
		if strings.Contains(text, candidate) {
			separator = candidate
			remaining = separators[i+1:]
			break
		}
	}

	var pieces []string
	if separator == "" {
		pieces = splitEvery(text, s.chunkSize)
	} else {
		pieces = splitKeepingSeparator(text, separator)
	}

	var final []string
	var pending []string
	flush := func() {
		if len(pending) > 0 {
			final = append(final, s.mergePieces(pending)...)
			pending = nil
		}
	}

	for _, piece := range pieces {
		if len(piece) <= s.chunkSize {
			pending = append(pending, piece)
			continue
		}
		flush()
		if len(remaining) == 0 {
			final = append(final, splitEvery(piece, s.chunkSize)...)
		} else {
			final = append(final, s.split(piece, remaining)...)
		}
	}
	flush()

	return final
}

// mergePieces packs consecutive pieces up to chunkSize and carries a tail
// of up to overlap characters of pieces into the next chunk to preserve
// cross-boundary context.
func (s *splitter) mergePieces(pieces []string) []string {
	var chunks []string
	var window []string
	total := 0

	emit := func() {
		joined := strings.TrimSpace(strings.Join(window, ""))
		if joined != "" {
			chunks = append(chunks, joined)
		}
	}

	for _, piece := range pieces {
		if total+len(piece) > s.chunkSize && total > 0 {
			emit()
			for total > s.overlap && len(window) > 0 {
				total -= len(window[0])
				window = window[1:]
			}
			if s.overlap <= 0 {
				window = nil
				total = 0
			}
		}
		window = append(window, piece)
		total += len(piece)
	}
	if total > 0 {
		emit()
	}

	return chunks
}

// splitKeepingSeparator splits text on separator, keeping the separator
// attached to the end of each piece so that joining pieces reconstructs
// the original text.
func splitKeepingSeparator(text, separator string) []string {
	parts := strings.Split(text, separator)
	pieces := make([]string, 0, len(parts))
	for i, part := range parts {
		if i < len(parts)-1 {
			part += separator
		}
		if part != "" {
			pieces = append(pieces, part)
		}
	}
	return pieces
}

func splitEvery(text string, size int) []string {
	if size <= 0 {
		return []string{text}
	}
	var pieces []string
	runes := []rune(text)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		pieces = append(pieces, string(runes[start:end]))
	}
	return pieces
}
