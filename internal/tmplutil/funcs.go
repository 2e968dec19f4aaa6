package tmplutil

import (
	"encoding/json"
	"html/template"

	"github.com/Masterminds/sprig/v3"
)

// FuncMap returns the function map for page templates: the HTML-safe Sprig
// functions plus json and first.
func FuncMap() template.FuncMap {
	fm := sprig.HtmlFuncMap()

	fm["json"] = func(v interface{}) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	}
	fm["first"] = func(vals []string) string {
		if len(vals) > 0 {
			return vals[0]
		}
		return ""
	}

	return fm
}

// Parse compiles an HTML template named name with FuncMap installed.
func Parse(name, text string) (*template.Template, error) {
	return template.New(name).Funcs(FuncMap()).Parse(text)
}
