// Package extract narrows fetched HTML to the elements matching a CSS selector.
package extract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// ErrNoMatch reports that a selector matched no element of the page.
var ErrNoMatch = errors.New("selector matched no elements")

// ValidateSelector reports whether selector is a parseable CSS selector group.
// An empty selector is valid and means "whole page".
func ValidateSelector(selector string) error {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return nil
	}
	if _, err := cascadia.ParseGroup(selector); err != nil {
		return fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	return nil
}

// Select returns the concatenated outer HTML of every element matching selector.
// With an empty selector the page is returned unchanged.
func Select(page, selector string) (string, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return page, nil
	}
	matcher, err := cascadia.Compile(selector)
	if err != nil {
		return "", fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	matches := doc.FindMatcher(matcher)
	if matches.Length() == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoMatch, selector)
	}

	var b strings.Builder
	var renderErr error
	matches.EachWithBreak(func(i int, s *goquery.Selection) bool {
		html, err := goquery.OuterHtml(s)
		if err != nil {
			renderErr = err
			return false
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(html)
		return true
	})
	if renderErr != nil {
		return "", fmt.Errorf("render match: %w", renderErr)
	}
	return b.String(), nil
}
