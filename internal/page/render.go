package page

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"newsletter-go/internal/models"
)

const (
	messageClass    = "newsletter-message"
	submittingLabel = "Subscribing..."
)

const messageBaseStyle = "padding: 12px 16px; border-radius: 8px; margin-top: 12px; font-size: 14px; " +
	"font-weight: 500; text-align: center; box-shadow: 0 4px 12px rgba(0, 0, 0, 0.15);"

var messageKindStyles = map[models.MessageKind]string{
	models.KindSuccess: "background: linear-gradient(135deg, #22c55e, #16a34a); color: white; border: 1px solid #22c55e;",
	models.KindError:   "background: linear-gradient(135deg, #ef4444, #dc2626); color: white; border: 1px solid #ef4444;",
	models.KindInfo:    "background: linear-gradient(135deg, #3b82f6, #2563eb); color: white; border: 1px solid #3b82f6;",
}

const (
	loadingStyle = "display: flex; align-items: center; gap: 0.5rem;"
	spinnerStyle = "width: 16px; height: 16px; border: 2px solid #ffffff; border-top: 2px solid transparent; " +
		"border-radius: 50%; animation: newsletter-spin 1s linear infinite;"
)

type RenderOptions struct {
	Now time.Time
	// Action returns the submit URL of a bound form.
	Action        func(page, form string) string
	CSRFFieldName string
	CSRFToken     string
	Stylesheet    string
}

// Render writes the page with every bound form reflecting its state. Forms
// without an entry in states render idle.
func (p *Page) Render(w io.Writer, states map[string]*models.FormState, opts RenderOptions) error {
	doc, err := html.Parse(bytes.NewReader(p.source))
	if err != nil {
		return fmt.Errorf("failed to parse page %s: %w", p.Name, err)
	}

	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	for _, c := range findForms(doc, p.formClass) {
		spec, ok := p.formAt(c.index)
		if !ok {
			continue
		}
		state := states[spec.ID]
		if state == nil {
			state = &models.FormState{}
		}
		p.bindForm(c.node, spec, state, opts)
	}

	if opts.Stylesheet != "" {
		if head := findFirst(doc, func(n *html.Node) bool { return n.DataAtom == atom.Head }); head != nil {
			style := element(atom.Style, html.Attribute{Key: "data-newsletter-styles"})
			style.AppendChild(text(opts.Stylesheet))
			head.AppendChild(style)
		}
	}

	return html.Render(w, doc)
}

func (p *Page) bindForm(form *html.Node, spec FormSpec, state *models.FormState, opts RenderOptions) {
	setAttr(form, "method", "post")
	if opts.Action != nil {
		setAttr(form, "action", opts.Action(p.Name, spec.ID))
	}
	setAttr(form, "data-newsletter-form", spec.ID)

	if email := findFirst(form, isEmailInput); email != nil {
		setAttr(email, "name", spec.EmailField)
		if state.Email != "" {
			setAttr(email, "value", state.Email)
		} else {
			removeAttr(email, "value")
		}
	}

	if submit := findFirst(form, isSubmitControl); submit != nil && state.Submitting {
		renderLoading(submit)
	}

	if opts.CSRFToken != "" {
		hidden := element(atom.Input,
			html.Attribute{Key: "type", Val: "hidden"},
			html.Attribute{Key: "name", Val: opts.CSRFFieldName},
			html.Attribute{Key: "value", Val: opts.CSRFToken},
		)
		form.InsertBefore(hidden, form.FirstChild)
	}

	for stale := findFirst(form, isMessage); stale != nil; stale = findFirst(form, isMessage) {
		stale.Parent.RemoveChild(stale)
	}
	if state.Message.Visible(opts.Now) {
		form.AppendChild(messageNode(state.Message, opts.Now))
	}
}

func isMessage(n *html.Node) bool {
	return hasClass(n, messageClass)
}

func renderLoading(submit *html.Node) {
	setAttr(submit, "disabled", "")
	setAttr(submit, "aria-busy", "true")

	if submit.DataAtom == atom.Input {
		setAttr(submit, "value", submittingLabel)
		return
	}

	removeChildren(submit)
	wrapper := element(atom.Span,
		html.Attribute{Key: "class", Val: "newsletter-loading"},
		html.Attribute{Key: "style", Val: loadingStyle},
	)
	wrapper.AppendChild(element(atom.Span,
		html.Attribute{Key: "class", Val: "newsletter-spinner"},
		html.Attribute{Key: "style", Val: spinnerStyle},
	))
	wrapper.AppendChild(text(submittingLabel))
	submit.AppendChild(wrapper)
}

// messageNode builds the status element. Its dismiss animation starts at
// DismissAt and ends at RemoveAt, measured from now.
func messageNode(msg *models.StatusMessage, now time.Time) *html.Node {
	delay := msg.DismissAt.Sub(now)
	fadeStart := msg.DismissAt
	if msg.Fading(now) {
		delay = 0
		fadeStart = now
	}
	fade := msg.RemoveAt.Sub(fadeStart)

	role := "status"
	if msg.Kind == models.KindError {
		role = "alert"
	}

	style := fmt.Sprintf("%s %s animation: newsletter-dismiss %dms ease %dms forwards;",
		messageBaseStyle, messageKindStyles[msg.Kind], fade.Milliseconds(), delay.Milliseconds())

	div := element(atom.Div,
		html.Attribute{Key: "class", Val: fmt.Sprintf("%s %s--%s", messageClass, messageClass, msg.Kind)},
		html.Attribute{Key: "role", Val: role},
		html.Attribute{Key: "data-message-id", Val: msg.ID.String()},
		html.Attribute{Key: "style", Val: style},
	)
	div.AppendChild(text(msg.Text))
	return div
}
