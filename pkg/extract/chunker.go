package extract

// ChunkSpec is one contiguous span of normalized text. CharStart/CharEnd
// are rune offsets into the normalized text, so spans survive multi-byte
// content unharmed.
type ChunkSpec struct {
	Index     int
	Text      string
	CharStart int
	CharEnd   int
}

// isSentenceTerminator reports whether r ends a sentence for boundary
// snapping purposes.
func isSentenceTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '\n'
}

// Chunk splits text into overlapping spans of at most chunkSize runes.
//
// The scan is greedy and forward-only. For each chunk the raw end is
// start+chunkSize (clamped to the text length); when that end is not the
// text end, the boundary snaps backward to just after the nearest sentence
// terminator found between start+0.8*chunkSize and the raw end, if any.
// The next start is end-overlap, except that start must always advance:
// if end-overlap would not move past the previous start, the next start is
// end. That guarantees termination and monotonic progress.
//
// Text is normalized before splitting, so identical input always yields
// byte-identical output and offsets always refer to the normalized text.
// Empty or whitespace-only text yields no chunks.
func Chunk(text string, chunkSize, overlap int) []ChunkSpec {
	runes := []rune(Normalize(text))
	if len(runes) == 0 {
		return nil
	}

	var chunks []ChunkSpec
	start := 0
	index := 0

	for start < len(runes) {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}

		// Snap to a sentence boundary within the last 20% of the chunk.
		if end < len(runes) {
			searchStart := start + (chunkSize*4)/5
			for i := end; i > searchStart; i-- {
				if isSentenceTerminator(runes[i-1]) {
					end = i
					break
				}
			}
		}

		chunks = append(chunks, ChunkSpec{
			Index:     index,
			Text:      string(runes[start:end]),
			CharStart: start,
			CharEnd:   end,
		})
		index++

		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks
}
