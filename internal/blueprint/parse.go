package blueprint

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/aryan0dhankhar/sitefactory/internal/domain"
	"github.com/aryan0dhankhar/sitefactory/pkg/slug"
)

// ErrNoPages is returned for a blueprint without any <page> element
var ErrNoPages = errors.New("blueprint has no pages")

// parsePages reads the <page title slug front> elements of a rendered
// blueprint. Page content is the markup of the page's child elements; bare
// text directly under <page> is dropped.
func parsePages(source string) ([]domain.PageDescriptor, error) {
	doc, err := html.Parse(strings.NewReader(source))
	if err != nil {
		return nil, fmt.Errorf("parse blueprint: %w", err)
	}

	var pages []domain.PageDescriptor
	var walk func(n *html.Node) error
	walk = func(n *html.Node) error {
		if n.Type == html.ElementNode && n.Data == "page" {
			page, err := pageFromNode(n)
			if err != nil {
				return err
			}
			pages = append(pages, page)
			return nil
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(doc); err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, ErrNoPages
	}
	return pages, nil
}

func pageFromNode(n *html.Node) (domain.PageDescriptor, error) {
	page := domain.PageDescriptor{Title: attr(n, "title")}
	if page.Title == "" {
		page.Title = "Page"
	}
	page.Slug = attr(n, "slug")
	if page.Slug == "" {
		page.Slug = slug.Make(page.Title)
	}
	if page.Slug == "" {
		page.Slug = "page"
	}
	page.IsFrontPage = attr(n, "front") == "true"

	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if err := html.Render(&buf, c); err != nil {
			return domain.PageDescriptor{}, fmt.Errorf("render page %q: %w", page.Title, err)
		}
	}
	page.Content = buf.String()
	return page, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}
