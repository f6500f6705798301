package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/yarkm13/handoff/internal/secret"
)

const maxSecretLen = 64 * 1024

// askPassword reads a secret from the terminal without echoing it. When
// stdin is not a terminal (a pipe in scripts) one line is read instead.
func askPassword(prompt string, in *os.File, out io.Writer) ([]byte, error) {
	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(out, prompt)
		password, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
		return password, nil
	}
	return readSecretLine(in)
}

func readSecretLine(r io.Reader) ([]byte, error) {
	reader := bufio.NewReaderSize(r, 4096)
	var password []byte
	for {
		chunk, err := reader.ReadSlice('\n')
		password = append(password, chunk...)
		secret.Wipe(chunk)
		if len(password) > maxSecretLen {
			secret.Wipe(password)
			return nil, errors.New("password input too long")
		}
		if err == nil || errors.Is(err, io.EOF) {
			break
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			secret.Wipe(password)
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
	}
	trimmed := bytes.TrimRight(password, "\r\n")
	return trimmed, nil
}
