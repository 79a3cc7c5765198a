package store

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
)

const (
	// IdentifierTokenizerName is the bleve name of the identifier tokenizer.
	IdentifierTokenizerName = "subindex_identifier"

	// StopFilterName is the bleve name of the stop word filter.
	StopFilterName = "subindex_stop"

	// AnalyzerName is the bleve name of the content analyzer.
	AnalyzerName = "subindex_content"

	// contentField is the only indexed document field.
	contentField = "content"
)

// DefaultStopWords are dropped from indexed content and queries.
var DefaultStopWords = []string{
	"a", "an", "and", "the", "of", "to", "in", "is", "or",
	"var", "let", "const", "func", "return", "if", "else", "for",
}

func init() {
	_ = registry.RegisterTokenizer(IdentifierTokenizerName, identifierTokenizerConstructor)
	_ = registry.RegisterTokenFilter(StopFilterName, stopFilterConstructor)
}

// newIndexMapping builds the mapping used by every reader snapshot.
func newIndexMapping() (*mapping.IndexMappingImpl, error) {
	m := bleve.NewIndexMapping()
	err := m.AddCustomAnalyzer(AnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": IdentifierTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			StopFilterName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add analyzer: %w", err)
	}
	m.DefaultAnalyzer = AnalyzerName
	return m, nil
}

var wordRegex = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// Tokenize splits text into lowercase terms.
// Identifiers are split on snake_case and camelCase boundaries and terms
// shorter than two characters are dropped.
func Tokenize(text string) []string {
	var terms []string
	for _, word := range wordRegex.FindAllString(text, -1) {
		for _, part := range SplitIdentifier(word) {
			lower := strings.ToLower(part)
			if len(lower) >= 2 {
				terms = append(terms, lower)
			}
		}
	}
	return terms
}

// SplitIdentifier splits snake_case and camelCase identifiers.
//   - "write_lock" -> ["write", "lock"]
//   - "parseHTTPRequest" -> ["parse", "HTTP", "Request"]
func SplitIdentifier(word string) []string {
	result := []string{}
	for _, part := range strings.Split(word, "_") {
		if part == "" {
			continue
		}
		result = append(result, splitCamel(part)...)
	}
	return result
}

func splitCamel(s string) []string {
	var (
		result  []string
		current strings.Builder
	)
	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevLower := unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			// acronym boundary: "HTTPRequest" splits before "Request"
			if (prevLower || nextLower) && current.Len() > 0 {
				result = append(result, current.String())
				current.Reset()
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

func stopWordSet(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[strings.ToLower(w)] = struct{}{}
	}
	return m
}

func identifierTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return identifierTokenizer{}, nil
}

type identifierTokenizer struct{}

// Tokenize implements analysis.Tokenizer. Offsets are best effort and only
// used for highlighting.
func (identifierTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	lowerText := strings.ToLower(text)
	terms := Tokenize(text)

	stream := make(analysis.TokenStream, 0, len(terms))
	offset := 0
	for i, term := range terms {
		start := strings.Index(lowerText[offset:], term)
		if start < 0 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(term)
		if end > len(lowerText) {
			end = len(lowerText)
		}
		stream = append(stream, &analysis.Token{
			Term:     []byte(term),
			Start:    start,
			End:      end,
			Position: i + 1,
			Type:     analysis.AlphaNumeric,
		})
		offset = end
	}
	return stream
}

func stopFilterConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.TokenFilter, error) {
	return &stopFilter{words: stopWordSet(DefaultStopWords)}, nil
}

type stopFilter struct {
	words map[string]struct{}
}

// Filter implements analysis.TokenFilter.
func (f *stopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	out := make(analysis.TokenStream, 0, len(input))
	for _, tok := range input {
		if _, stop := f.words[strings.ToLower(string(tok.Term))]; !stop {
			out = append(out, tok)
		}
	}
	return out
}
