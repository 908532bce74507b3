// Package report renders human readable listings of compiled instruments
// and performance status from text templates.
package report

import (
	"embed"
	"fmt"
	"io"
	"path/filepath"
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/vsariola/kantele/engine"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

type Reporter struct {
	Template *template.Template
}

// New returns a reporter using the default templates
func New() (*Reporter, error) {
	tmpl, err := template.New("base").Funcs(sprig.TxtFuncMap()).ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf(`could not create templates: %v`, err)
	}
	return &Reporter{Template: tmpl}, nil
}

// NewFromTemplates parses every template in a directory. The directory
// must define "listing" and "status".
func NewFromTemplates(templateDirectory string) (*Reporter, error) {
	globPtrn := filepath.Join(templateDirectory, "*.tmpl")
	tmpl, err := template.New("base").Funcs(sprig.TxtFuncMap()).ParseGlob(globPtrn)
	if err != nil {
		return nil, fmt.Errorf(`could not create template based on directory "%v": %v`, templateDirectory, err)
	}
	return &Reporter{Template: tmpl}, nil
}

// Listing writes the compiled steps of every instrument.
func (r *Reporter) Listing(w io.Writer, instruments []engine.InstrumentInfo) error {
	data := struct{ Instruments []engine.InstrumentInfo }{instruments}
	if err := r.Template.ExecuteTemplate(w, "listing", data); err != nil {
		return fmt.Errorf(`could not execute template "listing": %v`, err)
	}
	return nil
}

// Status writes a status snapshot.
func (r *Reporter) Status(w io.Writer, status engine.Status) error {
	if err := r.Template.ExecuteTemplate(w, "status", status); err != nil {
		return fmt.Errorf(`could not execute template "status": %v`, err)
	}
	return nil
}
