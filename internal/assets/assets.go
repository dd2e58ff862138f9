// Package assets embeds the browser editor shell.
package assets

import (
	"embed"
	"io/fs"
)

//go:embed shell/*
var shellFS embed.FS

// ShellFS returns the embedded shell files rooted at the shell directory.
func ShellFS() fs.FS {
	sub, err := fs.Sub(shellFS, "shell")
	if err != nil {
		panic(err)
	}
	return sub
}

// GetIndexHTML returns the shell page.
func GetIndexHTML() ([]byte, error) {
	return shellFS.ReadFile("shell/index.html")
}

// GetEditorJS returns the shell script.
func GetEditorJS() ([]byte, error) {
	return shellFS.ReadFile("shell/editor.js")
}

// GetEditorCSS returns the shell stylesheet.
func GetEditorCSS() ([]byte, error) {
	return shellFS.ReadFile("shell/editor.css")
}
