package stem

import (
	"strings"
	"sync"
	"unicode"

	"github.com/reiver/go-porterstemmer"
)

var builders = sync.Pool{
	New: func() any {
		return &strings.Builder{}
	},
}

// Fold lowercases the name, strips punctuation around words and collapses whitespace.
// "Cafe Onion", "cafe  onion." and "CAFE ONION!" all fold to "cafe onion".
func Fold(name string) string {
	return join(name, func(word string) string { return word })
}

// Key is Fold with every word stemmed, so inflections ("Cafe Onions") match as well.
// It is too loose to tell establishments apart, use it to compare a name with itself.
func Key(name string) string {
	return join(name, stemWord)
}

func join(name string, transform func(string) string) string {
	words := strings.FieldsFunc(name, func(r rune) bool {
		return unicode.IsSpace(r) || r == '-' || r == '_' || r == '/'
	})
	if len(words) == 0 {
		return ""
	}

	b := builders.Get().(*strings.Builder)
	b.Reset()
	b.Grow(len(name))

	for _, word := range words {
		word = strings.TrimFunc(strings.ToLower(word), trimPunctuation)
		if word == "" {
			continue
		}

		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(transform(word))
	}

	s := b.String()
	builders.Put(b)
	return s
}

// stemWord falls back to the word itself, the stemmer panics on some short inputs ("eed").
func stemWord(word string) (stemmed string) {
	defer func() {
		if r := recover(); r != nil {
			stemmed = word
		}
	}()

	return porterstemmer.StemString(word)
}

func trimPunctuation(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}
