// Package filter decides which items pass keyword include/exclude rules.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"rssel/internal/model"
	"rssel/internal/textnorm"
)

type rule struct {
	include bool
	scope   model.FilterScope
	word    string
	re      *regexp.Regexp
}

// Rules is a compiled rule set.
// Include rules use OR logic (at least one must match).
// Exclude rules use AND logic (none must match).
// An empty set passes everything.
type Rules struct {
	rules       []rule
	hasIncludes bool
}

// Compile validates filters and prepares them for matching.
func Compile(filters []model.Filter) (*Rules, error) {
	rs := &Rules{}
	for _, f := range filters {
		r := rule{scope: f.Scope}
		switch f.Kind {
		case model.FilterInclude, model.FilterExclude:
			r.word = strings.ToLower(f.Value)
		case model.FilterIncludeRe, model.FilterExcludeRe:
			re, err := compileRegex(f.Value)
			if err != nil {
				return nil, fmt.Errorf("filter %q: %w", f.Value, err)
			}
			r.re = re
		default:
			return nil, fmt.Errorf("filter %q: unknown kind %q", f.Value, f.Kind)
		}
		r.include = f.Kind == model.FilterInclude || f.Kind == model.FilterIncludeRe
		rs.hasIncludes = rs.hasIncludes || r.include
		rs.rules = append(rs.rules, r)
	}
	return rs, nil
}

// Len returns the number of rules.
func (rs *Rules) Len() int {
	return len(rs.rules)
}

// Match checks whether an item passes the rules.
func (rs *Rules) Match(it model.Item) bool {
	if len(rs.rules) == 0 {
		return true
	}

	title := strings.ToLower(it.Title)
	content := strings.ToLower(textnorm.HTMLToText(it.Body()))

	anyIncludeMatched := false
	for _, r := range rs.rules {
		hit := r.matches(textForScope(title, content, r.scope))
		if !r.include && hit {
			return false
		}
		if r.include && hit {
			anyIncludeMatched = true
		}
	}
	return !rs.hasIncludes || anyIncludeMatched
}

func (r rule) matches(text string) bool {
	if r.re != nil {
		return r.re.MatchString(text)
	}
	return strings.Contains(text, r.word)
}

func textForScope(title, content string, scope model.FilterScope) string {
	switch scope {
	case model.ScopeTitle:
		return title
	case model.ScopeContent:
		return content
	default:
		return title + " " + content
	}
}

// ValidateRegex checks whether a pattern is a valid regular expression.
func ValidateRegex(pattern string) error {
	_, err := compileRegex(pattern)
	return err
}

// compileRegex compiles a case-insensitive pattern.
func compileRegex(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return re, nil
}
