package page

import (
	"fmt"
	"io/fs"
	"sort"

	"newsletter-go/internal/models"
)

// Catalog holds every page scanned at startup. Pages added to the source
// directory later are not picked up.
type Catalog struct {
	pages map[string]*Page
	names []string
}

func LoadCatalog(fsys fs.FS, scanner *Scanner) (*Catalog, error) {
	names, err := fs.Glob(fsys, "*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no pages found")
	}
	sort.Strings(names)

	c := &Catalog{pages: make(map[string]*Page, len(names)), names: names}
	for _, name := range names {
		f, err := fsys.Open(name)
		if err != nil {
			return nil, fmt.Errorf("failed to open page %s: %w", name, err)
		}
		p, err := scanner.Scan(name, f)
		f.Close()
		if err != nil {
			return nil, err
		}
		c.pages[name] = p
	}
	return c, nil
}

func (c *Catalog) Page(name string) (*Page, error) {
	p, ok := c.pages[name]
	if !ok {
		return nil, models.ErrPageNotFound
	}
	return p, nil
}

// Form looks up a bound form by page and form id.
func (c *Catalog) Form(pageName, formID string) (*Page, FormSpec, error) {
	p, err := c.Page(pageName)
	if err != nil {
		return nil, FormSpec{}, err
	}
	spec, ok := p.Form(formID)
	if !ok {
		return nil, FormSpec{}, models.ErrFormNotFound
	}
	return p, spec, nil
}

func (c *Catalog) Names() []string {
	return append([]string(nil), c.names...)
}
