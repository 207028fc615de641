package iocli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Stdio консольный ввод-вывод клиента: приглашения интерактивных
// команд add/edit/resolve и скрытый ввод пароля при login
type Stdio struct {
	out    io.Writer
	in     *os.File
	reader *bufio.Reader
}

func NewStdio() IO {
	return newStdio(os.Stdout, os.Stdin)
}

func newStdio(out io.Writer, in *os.File) *Stdio {
	return &Stdio{
		out:    out,
		in:     in,
		reader: bufio.NewReader(in),
	}
}

func (s *Stdio) Println(a ...any) {
	fmt.Fprintln(s.out, a...)
}

func (s *Stdio) Printf(format string, a ...any) {
	fmt.Fprintf(s.out, format, a...)
}

func (s *Stdio) Write(p []byte) (int, error) {
	return s.out.Write(p)
}

func (s *Stdio) ReadInput(prompt string) (string, error) {
	s.Printf("%s", prompt)
	input, err := s.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(input), nil
}

// ReadPassword читает пароль без эха. Вне терминала (ввод по pipe,
// скрипты вокруг taskgraph) эхо скрывать нечего - читается обычная
// строка.
func (s *Stdio) ReadPassword(prompt string) (string, error) {
	fd := int(s.in.Fd())
	if !term.IsTerminal(fd) {
		return s.ReadInput(prompt)
	}

	s.Printf("%s", prompt)
	pwBytes, err := term.ReadPassword(fd)
	s.Println()
	if err != nil {
		return "", err
	}
	return string(pwBytes), nil
}
