package supervisor

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/alessio/shellescape"
	sprig "github.com/go-task/slim-sprig/v3"
)

// The command is inserted verbatim: it is a shell command line typed by the user.
const scriptTemplate = `#!/bin/bash

pushd {{ shellquote .WorkDir }}
export {{ .VisibilityVar | default "CUDA_VISIBLE_DEVICES" }}={{ .Resource }}
{{- range $key := keys .Env | sortAlpha }}
export {{ $key }}={{ get $.Env $key | shellquote }}
{{- end }}
{{ with .Interpreter }}{{ . }} {{ end }}{{ .Command }}
status=$?
popd
echo $status > {{ .ID }}.status
`

var script = template.Must(template.New("script").
	Funcs(sprig.TxtFuncMap()).
	Funcs(template.FuncMap{"shellquote": shellescape.Quote}).
	Parse(scriptTemplate))

type scriptData struct {
	ID            int
	Resource      int
	Command       string
	WorkDir       string
	Interpreter   string
	VisibilityVar string
	Env           map[string]any
}

func renderScript(data scriptData) ([]byte, error) {
	var output strings.Builder
	if err := script.Execute(&output, data); err != nil {
		return nil, fmt.Errorf("failed to execute script template: %w", err)
	}
	return []byte(output.String()), nil
}

func renderScreenrc(id int) []byte {
	return []byte(fmt.Sprintf("logfile %d.log\n", id))
}
