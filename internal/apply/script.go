package apply

import (
	"bytes"
	"strings"
	"text/template"
)

// ScriptName is the helper script written to the install directory.
const ScriptName = "spese-update.bat"

// ScriptDelay is how long the helper waits for this process to exit.
const ScriptDelay = 3

var scriptTemplate = template.Must(template.New("update").Parse(`@echo off
rem Finishes a spese update once the old process has exited.
timeout /t {{.Delay}} /nobreak > nul
{{range .Resident}}del /f /q "{{.Live}}" > nul 2>&1
copy /y "{{.Staged}}" "{{.Live}}" > nul
{{end}}del /s /q /f "{{.InstallDir}}\*{{.Marker}}" > nul 2>&1
start "" "{{.Executable}}"
rmdir /s /q "{{.StagingDir}}"
(goto) 2>nul & del "%~f0"
`))

// ResidentSwap replaces a file that stays mapped until process exit.
type ResidentSwap struct {
	Live   string
	Staged string
}

// ScriptParams fills the helper script.
type ScriptParams struct {
	Delay      int
	Resident   []ResidentSwap
	InstallDir string
	Marker     string
	Executable string
	StagingDir string
}

// Script renders the Windows helper batch script with CRLF line endings.
func Script(p ScriptParams) (string, error) {
	var buf bytes.Buffer
	if err := scriptTemplate.Execute(&buf, p); err != nil {
		return "", err
	}
	return strings.ReplaceAll(buf.String(), "\n", "\r\n"), nil
}
