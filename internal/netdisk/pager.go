package netdisk

import "fmt"

// Pager counts pages fetched by one listing and enforces MaxPages.
// Call Next before fetching each page.
type Pager struct {
	backend string
	pages   int
}

// NewPager returns a Pager for backend.
func NewPager(backend string) *Pager {
	return &Pager{backend: backend}
}

// Next accounts for one more page and fails once MaxPages is exceeded.
func (p *Pager) Next() error {
	p.pages++
	if p.pages > MaxPages {
		return fmt.Errorf("%s: listing needs more than %d pages: %w", p.backend, MaxPages, ErrPaginationOverrun)
	}

	return nil
}

// Pages returns how many pages have been accounted for.
func (p *Pager) Pages() int { return p.pages }
