package netplan

import (
	"embed"
	"text/template"

	"github.com/tpodg/staticnet/internal/strutil"
)

//go:embed scripts/*.sh.tmpl
var netplanScriptsFS embed.FS

var netplanScriptTemplates = template.Must(template.New("netplan").Funcs(template.FuncMap{
	"shellEscape": strutil.ShellEscape,
}).Option("missingkey=error").ParseFS(netplanScriptsFS, "scripts/*.sh.tmpl"))
