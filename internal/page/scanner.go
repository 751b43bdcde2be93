package page

import (
	"bytes"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"newsletter-go/internal/logging"
)

const defaultEmailField = "email"

// FormSpec describes a newsletter form bound at scan time.
type FormSpec struct {
	ID          string
	Index       int
	EmailField  string
	SubmitLabel string
}

type Page struct {
	Name      string
	Forms     []FormSpec
	formClass string
	source    []byte
}

func (p *Page) Form(id string) (FormSpec, bool) {
	for _, f := range p.Forms {
		if f.ID == id {
			return f, true
		}
	}
	return FormSpec{}, false
}

func (p *Page) formAt(index int) (FormSpec, bool) {
	for _, f := range p.Forms {
		if f.Index == index {
			return f, true
		}
	}
	return FormSpec{}, false
}

type candidate struct {
	node  *html.Node
	index int
}

// findForms returns every form carrying class in document order, numbered
// from 1. Scan and Render use it so both agree on form indexes.
func findForms(doc *html.Node, class string) []candidate {
	var forms []candidate
	walk(doc, func(n *html.Node) bool {
		if n.DataAtom == atom.Form && hasClass(n, class) {
			forms = append(forms, candidate{node: n, index: len(forms) + 1})
			return false
		}
		return true
	})
	return forms
}

type Scanner struct {
	formClass string
	logger    *logging.ContextLogger
}

func NewScanner(formClass string, logger *logging.ContextLogger) *Scanner {
	return &Scanner{formClass: formClass, logger: logger}
}

// Scan parses a page and binds every newsletter form that has an email
// input and a submit control. Other marked forms are skipped.
func (s *Scanner) Scan(name string, r io.Reader) (*Page, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read page %s: %w", name, err)
	}

	doc, err := html.Parse(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page %s: %w", name, err)
	}

	p := &Page{Name: name, formClass: s.formClass, source: src}
	seen := make(map[string]bool)

	for _, c := range findForms(doc, s.formClass) {
		id, ok := getAttr(c.node, "id")
		if !ok || id == "" {
			id = fmt.Sprintf("%s-%d", s.formClass, c.index)
		}
		fields := logrus.Fields{"page": name, "form": id}

		email := findFirst(c.node, isEmailInput)
		if email == nil {
			s.logger.WithFields(fields).Warn("Skipping newsletter form without an email input")
			continue
		}
		submit := findFirst(c.node, isSubmitControl)
		if submit == nil {
			s.logger.WithFields(fields).Warn("Skipping newsletter form without a submit control")
			continue
		}
		if seen[id] {
			s.logger.WithFields(fields).Warn("Skipping newsletter form with a duplicate id")
			continue
		}
		seen[id] = true

		spec := FormSpec{ID: id, Index: c.index, EmailField: defaultEmailField}
		if field, ok := getAttr(email, "name"); ok && field != "" {
			spec.EmailField = field
		}
		if submit.DataAtom == atom.Input {
			spec.SubmitLabel, _ = getAttr(submit, "value")
		} else {
			spec.SubmitLabel = textContent(submit)
		}

		p.Forms = append(p.Forms, spec)
	}

	s.logger.WithFields(logrus.Fields{
		"page":  name,
		"forms": len(p.Forms),
	}).Info("Bound newsletter forms")

	return p, nil
}
