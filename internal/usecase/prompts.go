package usecase

import (
	"bytes"
	"embed"
	"text/template"

	"github.com/rotisserie/eris"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var prompts = template.Must(template.ParseFS(promptFS, "prompts/*.tmpl"))

func renderPrompt(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, name, data); err != nil {
		return "", eris.Wrapf(err, "usecase: render prompt %s", name)
	}
	return buf.String(), nil
}
