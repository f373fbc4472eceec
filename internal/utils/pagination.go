// Package utils provides small helpers shared by the HTTP and service layers
// that carry no booking semantics.
package utils

import "strconv"

// AtoiDefault parses s as an int, returning def when s is empty or invalid.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// Page is a 1-based page request.
type Page struct {
	Number int
	Size   int
}

// ParsePage reads raw page/page_size values. Missing or invalid values fall
// back to page 1 and defSize; sizes are clamped to [1, maxSize].
func ParsePage(rawPage, rawSize string, defSize, maxSize int) Page {
	return Page{
		Number: max(AtoiDefault(rawPage, 1), 1),
		Size:   min(max(AtoiDefault(rawSize, defSize), 1), maxSize),
	}
}

// Offset is the number of rows before the page.
func (p Page) Offset() int {
	if p.Number < 1 || p.Size < 1 {
		return 0
	}
	return (p.Number - 1) * p.Size
}

// TotalPages returns how many pages of the page's size hold total rows.
func (p Page) TotalPages(total int64) int {
	if p.Size < 1 || total <= 0 {
		return 0
	}
	return int((total + int64(p.Size) - 1) / int64(p.Size))
}
