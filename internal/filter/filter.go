// Package filter selects and groups servers by tag, property, host or name.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"ssh-fleet/internal/target"
)

// Filter is a server match condition
type Filter interface {
	Match(t target.Target) bool
	String() string
}

// TagFilter requires some tags and rejects others
type TagFilter struct {
	RequiredTags []string
	ExcludeTags  []string
}

// NewTagFilter creates a tag filter
func NewTagFilter(required, excluded []string) *TagFilter {
	return &TagFilter{RequiredTags: required, ExcludeTags: excluded}
}

// Match implements Filter. Tags compare case-insensitively.
func (f *TagFilter) Match(t target.Target) bool {
	tags := make(map[string]bool, len(t.Tags))
	for _, tag := range t.Tags {
		tags[strings.ToLower(tag)] = true
	}
	for _, required := range f.RequiredTags {
		if !tags[strings.ToLower(required)] {
			return false
		}
	}
	for _, excluded := range f.ExcludeTags {
		if tags[strings.ToLower(excluded)] {
			return false
		}
	}
	return true
}

func (f *TagFilter) String() string {
	var parts []string
	if len(f.RequiredTags) > 0 {
		parts = append(parts, fmt.Sprintf("tags: %s", strings.Join(f.RequiredTags, ",")))
	}
	if len(f.ExcludeTags) > 0 {
		parts = append(parts, fmt.Sprintf("!tags: %s", strings.Join(f.ExcludeTags, ",")))
	}
	return strings.Join(parts, " AND ")
}

// Operator compares a property value
type Operator string

const (
	Equals   Operator = "equals"
	Contains Operator = "contains"
	Regex    Operator = "regex"
)

// PropertyFilter matches one property of a server
type PropertyFilter struct {
	Property string
	Value    string
	Operator Operator
	re       *regexp.Regexp
}

// NewPropertyFilter creates a property filter. Regex values are compiled
// up front.
func NewPropertyFilter(property string, op Operator, value string) (*PropertyFilter, error) {
	f := &PropertyFilter{Property: property, Value: value, Operator: op}
	switch op {
	case Equals, Contains:
	case Regex:
		re, err := regexp.Compile(value)
		if err != nil {
			return nil, fmt.Errorf("invalid property regex '%s': %w", value, err)
		}
		f.re = re
	default:
		return nil, fmt.Errorf("unknown property operator '%s'", op)
	}
	return f, nil
}

// Match implements Filter
func (f *PropertyFilter) Match(t target.Target) bool {
	value, ok := t.Properties[f.Property]
	if !ok {
		return false
	}
	switch f.Operator {
	case Equals:
		return strings.EqualFold(value, f.Value)
	case Contains:
		return strings.Contains(strings.ToLower(value), strings.ToLower(f.Value))
	case Regex:
		return f.re.MatchString(value)
	}
	return false
}

func (f *PropertyFilter) String() string {
	return fmt.Sprintf("%s %s %s", f.Property, f.Operator, f.Value)
}

// PatternFilter matches the host or the server name against a glob or regex
type PatternFilter struct {
	Field   string // "host" or "name"
	Pattern string
	IsRegex bool
	re      *regexp.Regexp
}

// NewHostFilter matches the server address. Without isRegex only "*" is special.
func NewHostFilter(pattern string, isRegex bool) (*PatternFilter, error) {
	return newPatternFilter("host", pattern, isRegex)
}

// NewNameFilter matches the configured server name
func NewNameFilter(pattern string, isRegex bool) (*PatternFilter, error) {
	return newPatternFilter("name", pattern, isRegex)
}

func newPatternFilter(field, pattern string, isRegex bool) (*PatternFilter, error) {
	expr := pattern
	if !isRegex {
		expr = "^" + strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, ".*") + "$"
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid %s pattern '%s': %w", field, pattern, err)
	}
	return &PatternFilter{Field: field, Pattern: pattern, IsRegex: isRegex, re: re}, nil
}

// Match implements Filter
func (f *PatternFilter) Match(t target.Target) bool {
	if f.Field == "name" {
		return f.re.MatchString(t.Name)
	}
	return f.re.MatchString(t.Host)
}

func (f *PatternFilter) String() string {
	if f.IsRegex {
		return fmt.Sprintf("%s regex: %s", f.Field, f.Pattern)
	}
	return fmt.Sprintf("%s pattern: %s", f.Field, f.Pattern)
}

// Any matches when one of its filters matches. It is built from
// comma-separated alternatives in host: and name: expressions.
type Any []Filter

// Match implements Filter
func (a Any) Match(t target.Target) bool {
	for _, f := range a {
		if f.Match(t) {
			return true
		}
	}
	return len(a) == 0
}

func (a Any) String() string {
	parts := make([]string, len(a))
	for i, f := range a {
		parts[i] = f.String()
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

// MatchAll reports whether t satisfies every filter
func MatchAll(t target.Target, filters ...Filter) bool {
	for _, f := range filters {
		if !f.Match(t) {
			return false
		}
	}
	return true
}

// Apply keeps the servers matching every filter
func Apply(servers map[string]target.Target, filters ...Filter) map[string]target.Target {
	if len(filters) == 0 {
		return servers
	}
	out := make(map[string]target.Target)
	for name, t := range servers {
		if MatchAll(t, filters...) {
			out[name] = t
		}
	}
	return out
}

// Untagged is the group of servers that carry neither the property nor the tag
const Untagged = "untagged"

// Group buckets servers by a property value, or by a tag of that name
func Group(servers map[string]target.Target, groupBy string) map[string][]string {
	groups := make(map[string][]string)
	for _, name := range target.Names(servers) {
		key := groupKey(servers[name], groupBy)
		groups[key] = append(groups[key], name)
	}
	return groups
}

func groupKey(t target.Target, groupBy string) string {
	if value, ok := t.Properties[groupBy]; ok {
		return value
	}
	for _, tag := range t.Tags {
		if strings.EqualFold(tag, groupBy) {
			return tag
		}
	}
	return Untagged
}

// Parse parses a filter expression such as
// "tag:web,prod !tag:legacy property:env=production host:*.example.com name:web-*".
func Parse(expression string) ([]Filter, error) {
	var filters []Filter
	for _, part := range strings.Fields(expression) {
		key, value, ok := strings.Cut(part, ":")
		if !ok || value == "" {
			return nil, fmt.Errorf("invalid filter '%s': expected key:value", part)
		}

		switch key {
		case "tag":
			filters = append(filters, NewTagFilter(strings.Split(value, ","), nil))
		case "!tag":
			filters = append(filters, NewTagFilter(nil, strings.Split(value, ",")))
		case "property":
			f, err := parseProperty(value)
			if err != nil {
				return nil, err
			}
			filters = append(filters, f)
		case "host", "name":
			f, err := parsePatterns(key, value)
			if err != nil {
				return nil, err
			}
			filters = append(filters, f)
		default:
			return nil, fmt.Errorf("unknown filter key '%s'", key)
		}
	}
	return filters, nil
}

// property:env=prod, property:env~prod (contains), property:env=~^pr (regex)
func parseProperty(spec string) (Filter, error) {
	if prop, value, ok := strings.Cut(spec, "=~"); ok {
		return NewPropertyFilter(prop, Regex, value)
	}
	if prop, value, ok := strings.Cut(spec, "~"); ok {
		return NewPropertyFilter(prop, Contains, value)
	}
	if prop, value, ok := strings.Cut(spec, "="); ok {
		return NewPropertyFilter(prop, Equals, value)
	}
	return nil, fmt.Errorf("invalid property filter '%s': expected name=value", spec)
}

func parsePatterns(field, spec string) (Filter, error) {
	isRegex := false
	if rest, ok := strings.CutPrefix(spec, "regex:"); ok {
		isRegex = true
		spec = rest
	}

	var alternatives []string
	if isRegex {
		alternatives = []string{spec}
	} else {
		alternatives = strings.Split(spec, ",")
	}

	var alts Any
	for _, pattern := range alternatives {
		f, err := newPatternFilter(field, pattern, isRegex)
		if err != nil {
			return nil, err
		}
		alts = append(alts, f)
	}
	if len(alts) == 1 {
		return alts[0], nil
	}
	return alts, nil
}
