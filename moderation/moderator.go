// Package moderation masks censored words in message text before the text
// is persisted or broadcast.
package moderation

import (
	"bufio"
	"embed"
	"io/fs"
	"strings"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
)

//go:embed wordlists/*.txt
var wordlists embed.FS

// Moderator finds forbidden patterns with an Aho-Corasick automaton built
// over a normalized alphabet, then masks the matching runes in the original
// text while preserving spacing and punctuation.
type Moderator struct {
	machine *goahocorasick.Machine
	mask    rune
}

func NewModerator(words []string, mask rune) (*Moderator, error) {
	patterns := make([][]rune, 0, len(words))
	for _, w := range words {
		if norm, _ := normalize(w); len(norm) > 0 {
			patterns = append(patterns, norm)
		}
	}
	machine := new(goahocorasick.Machine)
	if err := machine.Build(patterns); err != nil {
		return nil, err
	}
	return &Moderator{machine: machine, mask: mask}, nil
}

// NewModeratorFromEmbedded builds a moderator from the wordlists shipped in
// the binary, one word per line, '#' lines ignored.
func NewModeratorFromEmbedded(mask rune) (*Moderator, error) {
	words, err := loadWords(wordlists)
	if err != nil {
		return nil, err
	}
	return NewModerator(words, mask)
}

// Censor replaces every rune of a matched word with the mask character.
// The input comes back unchanged when nothing matches.
func (m *Moderator) Censor(text string) string {
	norm, origIdx := normalize(text)
	if len(norm) == 0 {
		return text
	}
	matches := m.machine.MultiPatternSearch(norm, false)
	if len(matches) == 0 {
		return text
	}

	out := []rune(text)
	for _, match := range matches {
		start := match.Pos
		end := start + len(match.Word)
		if start < 0 || end > len(origIdx) {
			continue
		}
		for i := origIdx[start]; i <= origIdx[end-1]; i++ {
			out[i] = m.mask
		}
	}
	return string(out)
}

// normalize lowercases the text and strips noise runes, keeping a mapping
// from normalized positions back to original rune positions.
func normalize(text string) ([]rune, []int) {
	orig := []rune(text)
	norm := make([]rune, 0, len(orig))
	origIdx := make([]int, 0, len(orig))
	for i, r := range orig {
		if unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		norm = append(norm, unicode.ToLower(r))
		origIdx = append(origIdx, i)
	}
	return norm, origIdx
}

func loadWords(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, "wordlists")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var words []string
	for _, entry := range entries {
		f, err := fsys.Open("wordlists/" + entry.Name())
		if err != nil {
			return nil, err
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			word := strings.TrimSpace(scanner.Text())
			if word == "" || strings.HasPrefix(word, "#") {
				continue
			}
			if _, ok := seen[word]; ok {
				continue
			}
			seen[word] = struct{}{}
			words = append(words, word)
		}
		if err := scanner.Err(); err != nil {
			_ = f.Close()
			return nil, err
		}
		_ = f.Close()
	}
	return words, nil
}
