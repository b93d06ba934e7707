package session

import (
	"os"
	"os/exec"

	"github.com/dbcrust/dbcrust/internal/backenderr"
	"github.com/dbcrust/dbcrust/internal/config"
)

// openInEditor writes body to a scratch file, opens $EDITOR (falling back
// to vi) on it attached to the controlling terminal the way the serve
// command attaches a child process's stdio, and returns the edited
// contents, backing \ed.
func openInEditor(body string) (string, error) {
	tmp, err := os.CreateTemp("", "dbcrust-*.sql")
	if err != nil {
		return "", backenderr.IOf(err, "create scratch file")
	}
	path := tmp.Name()
	defer os.Remove(path)
	if _, err := tmp.WriteString(body); err != nil {
		tmp.Close()
		return "", backenderr.IOf(err, "write scratch file")
	}
	tmp.Close()

	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vi"
	}
	cmd := exec.Command(editor, path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return "", backenderr.IOf(err, "run editor")
	}

	edited, err := os.ReadFile(path)
	if err != nil {
		return "", backenderr.IOf(err, "read scratch file")
	}
	return string(edited), nil
}

func readSQLFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", backenderr.IOf(err, "read %s", path)
	}
	return string(data), nil
}

func writeSQLFile(path, sql string) error {
	if err := os.WriteFile(path, []byte(sql), 0o644); err != nil {
		return backenderr.IOf(err, "write %s", path)
	}
	return nil
}

func reloadConfig() (config.Config, error) {
	return config.Load()
}
