// Package htmlx cleans rendered HTML, discovers hyperlinks, and converts
// pages to markdown.
package htmlx

import (
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/samber/lo"
)

// boilerplateTags never carry documentation content.
const boilerplateTags = "script, style, nav, footer, header, aside, form, iframe, svg, meta, link"

// boilerplateSelectors catch navigation and chrome that sites build from divs.
const boilerplateSelectors = ".nav, .navbar, .footer, .sidebar, .ad, .avatar, .signature, .social-share"

func parse(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// Prune strips navigation, scripts and other boilerplate so the extraction
// prompt spends its budget on content.
func Prune(html string) (string, error) {
	doc, err := parse(html)
	if err != nil {
		return "", err
	}
	doc.Find(boilerplateTags).Remove()
	doc.Find(boilerplateSelectors).Remove()
	out, err := doc.Html()
	if err != nil {
		return "", fmt.Errorf("render pruned html: %w", err)
	}
	return out, nil
}

// Links returns every distinct href found on anchor elements, in document
// order. Values are raw; resolving them is the caller's job.
func Links(html string) ([]string, error) {
	doc, err := parse(html)
	if err != nil {
		return nil, err
	}
	var hrefs []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			hrefs = append(hrefs, href)
		}
	})
	return lo.Uniq(hrefs), nil
}

// Markdown converts html to markdown. pageURL is used to absolutize links.
func Markdown(html, pageURL string) (string, error) {
	converter := md.NewConverter(pageURL, true, nil)
	out, err := converter.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("convert to markdown: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// WordCount counts whitespace-separated words in the visible body text.
func WordCount(html string) int {
	doc, err := parse(html)
	if err != nil {
		return 0
	}
	doc.Find("script, style, noscript, template").Remove()
	return len(strings.Fields(doc.Find("body").Text()))
}
