package retrieval

import (
	"regexp"
	"strings"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	sentenceRe   = regexp.MustCompile(`[.!?]+`)
)

// ChunkText splits text into chunks of roughly chunkSize words, breaking on
// sentence boundaries where possible and carrying overlap words between
// consecutive chunks so context survives the cut.
func ChunkText(text string, chunkSize, overlap int) []string {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = chunkSize / 10
	}

	text = whitespaceRe.ReplaceAllString(strings.TrimSpace(text), " ")
	if text == "" {
		return nil
	}

	var sentences []string
	for _, s := range sentenceRe.Split(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}

	var chunks []string
	var current []string
	currentLen := 0
	for _, sentence := range sentences {
		words := len(strings.Fields(sentence))
		if currentLen+words > chunkSize && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))
			keep := overlap
			if keep > len(current) {
				keep = len(current)
			}
			current = append(append([]string(nil), current[len(current)-keep:]...), sentence)
			currentLen = len(strings.Fields(strings.Join(current, " ")))
			continue
		}
		current = append(current, sentence)
		currentLen += words
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}

	// Word-based fallback when the text has no sentence punctuation at all.
	if len(chunks) == 0 {
		words := strings.Fields(text)
		for i := 0; i < len(words); i += chunkSize - overlap {
			end := i + chunkSize
			if end > len(words) {
				end = len(words)
			}
			chunks = append(chunks, strings.Join(words[i:end], " "))
			if end == len(words) {
				break
			}
		}
	}
	return chunks
}
