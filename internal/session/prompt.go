package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/dbcrust/dbcrust/internal/backend"
	"github.com/dbcrust/dbcrust/internal/backenderr"
)

// TerminalPrompter implements resolver.PasswordPrompter by reading a
// password from the controlling terminal without echo, the same
// term.ReadPassword(int(os.Stdin.Fd())) call the admin-create command
// uses for its password prompt.
type TerminalPrompter struct {
	in  *bufio.Reader
	out io.Writer
	fd  int
}

func NewTerminalPrompter(out io.Writer) *TerminalPrompter {
	return &TerminalPrompter{in: bufio.NewReader(os.Stdin), out: out, fd: int(os.Stdin.Fd())}
}

func (p *TerminalPrompter) Prompt(ctx context.Context, ci backend.ConnectionInfo) (string, error) {
	if !term.IsTerminal(p.fd) {
		return "", backenderr.Configurationf(nil, "password required but stdin is not a terminal")
	}
	fmt.Fprintf(p.out, "Password for %s@%s: ", ci.User, ci.DisplayURL)
	pw, err := term.ReadPassword(p.fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", backenderr.IOf(err, "read password")
	}
	return string(pw), nil
}

func (p *TerminalPrompter) ConfirmSave(ctx context.Context, ci backend.ConnectionInfo) bool {
	if !term.IsTerminal(p.fd) {
		return false
	}
	fmt.Fprint(p.out, "Save this password to the password file? [y/N] ")
	line, _ := p.in.ReadString('\n')
	line = strings.ToLower(strings.TrimSpace(line))
	return line == "y" || line == "yes"
}
