package cloudinit

import (
	"embed"
	"text/template"

	"github.com/tpodg/staticnet/internal/strutil"
)

//go:embed scripts/*.sh.tmpl
var cloudInitScriptsFS embed.FS

var cloudInitScriptTemplates = template.Must(template.New("cloudinit").Funcs(template.FuncMap{
	"shellEscape": strutil.ShellEscape,
}).Option("missingkey=error").ParseFS(cloudInitScriptsFS, "scripts/*.sh.tmpl"))
