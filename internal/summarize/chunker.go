package summarize

import "strings"

// ChunkText splits text into chunks of at most size whitespace-separated
// words. Chunk k holds words [k*size, (k+1)*size) joined by single spaces.
// Blank input yields no chunks.
func ChunkText(text string, size int) []string {
	if size <= 0 {
		size = 3000
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	chunks := make([]string, 0, (len(words)+size-1)/size)
	for start := 0; start < len(words); start += size {
		end := start + size
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
	}
	return chunks
}
