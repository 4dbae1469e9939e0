// Package filter implements the content safety filter applied to every chat
// message before it is stored.
package filter

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

//go:embed terms.yaml
var defaultTerms []byte

// Policy decides what happens to a message containing a banned term.
type Policy string

const (
	// PolicyReject refuses the message; nothing is stored.
	PolicyReject Policy = "reject"
	// PolicyRedact replaces every match with the placeholder and delivers the rest.
	PolicyRedact Policy = "redact"
)

// Rejection reasons.
const (
	ReasonBannedTerm = "banned_term"
	ReasonTooLong    = "too_long"
)

const Placeholder = "***"

// Result is the outcome of a single check.
type Result struct {
	Accepted  bool
	Sanitized string
	Flagged   bool
	// Terms are the distinct banned terms found, lowercased.
	Terms []string
	// Reason is set when Accepted is false.
	Reason string
}

// Filter is immutable after construction and safe for concurrent use.
type Filter struct {
	policy  Policy
	maxLen  int
	pattern *regexp.Regexp
}

// New builds a filter over terms. maxLen is measured in characters.
func New(terms []string, policy Policy, maxLen int) (*Filter, error) {
	switch policy {
	case PolicyReject, PolicyRedact:
	default:
		return nil, fmt.Errorf("unknown filter policy %q", policy)
	}
	if maxLen <= 0 {
		return nil, fmt.Errorf("max length must be positive, got %d", maxLen)
	}

	f := &Filter{policy: policy, maxLen: maxLen}

	cleaned := normalizeTerms(terms)
	if len(cleaned) > 0 {
		quoted := make([]string, len(cleaned))
		for i, t := range cleaned {
			quoted[i] = regexp.QuoteMeta(t)
		}
		// Longest first so overlapping terms redact the widest match.
		f.pattern = regexp.MustCompile("(?i)(" + strings.Join(quoted, "|") + ")")
	}
	return f, nil
}

// Default builds a filter over the embedded term list.
func Default(policy Policy, maxLen int) (*Filter, error) {
	terms, err := ParseTerms(strings.NewReader(string(defaultTerms)))
	if err != nil {
		return nil, err
	}
	return New(terms, policy, maxLen)
}

// FromFile builds a filter over a YAML term file, or the embedded list when
// path is empty.
func FromFile(path string, policy Policy, maxLen int) (*Filter, error) {
	if path == "" {
		return Default(policy, maxLen)
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open banned terms: %w", err)
	}
	defer fh.Close()

	terms, err := ParseTerms(fh)
	if err != nil {
		return nil, err
	}
	return New(terms, policy, maxLen)
}

// ParseTerms reads a YAML document mapping category names to term lists and
// returns every term.
func ParseTerms(r io.Reader) ([]string, error) {
	var categories map[string][]string
	if err := yaml.NewDecoder(r).Decode(&categories); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("parse banned terms: %w", err)
	}

	names := make([]string, 0, len(categories))
	for name := range categories {
		names = append(names, name)
	}
	sort.Strings(names)

	var terms []string
	for _, name := range names {
		terms = append(terms, categories[name]...)
	}
	return terms, nil
}

// Policy returns the configured policy.
func (f *Filter) Policy() Policy { return f.policy }

// Check classifies text. It never truncates: over-long text is rejected under
// both policies.
func (f *Filter) Check(text string) Result {
	if utf8.RuneCountInString(text) > f.maxLen {
		return Result{Accepted: false, Sanitized: text, Reason: ReasonTooLong}
	}

	if f.pattern == nil {
		return Result{Accepted: true, Sanitized: text}
	}

	found := f.pattern.FindAllString(text, -1)
	if len(found) == 0 {
		return Result{Accepted: true, Sanitized: text}
	}
	terms := distinctLower(found)

	if f.policy == PolicyRedact {
		return Result{
			Accepted:  true,
			Sanitized: f.pattern.ReplaceAllLiteralString(text, Placeholder),
			Flagged:   true,
			Terms:     terms,
		}
	}
	return Result{
		Accepted:  false,
		Sanitized: text,
		Flagged:   true,
		Terms:     terms,
		Reason:    ReasonBannedTerm,
	}
}

func normalizeTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return utf8.RuneCountInString(out[i]) > utf8.RuneCountInString(out[j])
	})
	return out
}

func distinctLower(matches []string) []string {
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		m = strings.ToLower(m)
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}
