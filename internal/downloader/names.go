package downloader

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/panora77956/v3-sub000/internal/domain"
)

// Namer returns the storage key of copy index of job, relative to the
// output directory. It must be deterministic.
type Namer func(job *domain.Job, index int) string

var lower = cases.Lower(language.Und)

// SafeName folds s to lowercase ASCII letters, digits, '-' and '_'.
// Accents are stripped; anything else becomes '_'. An empty result yields
// "untitled".
func SafeName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = lower.String(folded)

	var b strings.Builder
	lastUnderscore := false
	for _, r := range folded {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > 80 {
		out = strings.TrimRight(out[:80], "_")
	}
	if out == "" {
		return "untitled"
	}
	return out
}

// DefaultNamer names artifacts "<job>/scene_<NN>_copy_<N>.mp4".
func DefaultNamer(job *domain.Job, index int) string {
	return fmt.Sprintf("%s/scene_%02d_copy_%d.mp4", SafeName(job.ID), job.Scene, index)
}

// thumbnailKey swaps the extension of key for ".jpg".
func thumbnailKey(key string) string {
	if dot := strings.LastIndexByte(key, '.'); dot > strings.LastIndexByte(key, '/') {
		key = key[:dot]
	}
	return key + ".jpg"
}
