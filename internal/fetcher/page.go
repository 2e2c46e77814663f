// Package fetcher holds logic shared by the render backends.
package fetcher

import (
	"fmt"
	"net/http"

	"github.com/JakeFAU/llm-docs-crawler/internal/crawler"
	"github.com/JakeFAU/llm-docs-crawler/internal/htmlx"
)

// BuildPage turns a raw response into a crawler.Page. HTTP errors and pages
// with fewer than minWords words come back with Success=false and a reason;
// neither is an error for the caller.
func BuildPage(url string, status int, html string, minWords int) crawler.Page {
	page := crawler.Page{URL: url, StatusCode: status, HTML: html}
	if status >= http.StatusBadRequest {
		page.Error = fmt.Sprintf("http status %d", status)
		return page
	}
	if words := htmlx.WordCount(html); words < minWords {
		page.Error = fmt.Sprintf("page has %d words, need at least %d", words, minWords)
		return page
	}
	markdown, err := htmlx.Markdown(html, url)
	if err != nil {
		page.Error = err.Error()
		return page
	}
	page.Markdown = markdown
	page.Success = true
	return page
}
