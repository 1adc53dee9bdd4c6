// Package clip copies short strings, such as session IDs, to the user's
// clipboard from inside a terminal program.
package clip

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	atotto "github.com/atotto/clipboard"
	osc52 "github.com/aymanbagabas/go-osc52/v2"
	"golang.org/x/term"
)

// Method is how the text was made available.
type Method string

const (
	MethodNative Method = "native" // system clipboard
	MethodOSC52  Method = "osc52"  // terminal escape sequence
	MethodFile   Method = "file"   // temp file; nothing reached the clipboard
)

// Result reports where copied text went.
type Result struct {
	Method   Method
	FilePath string // set for MethodFile
}

// osc52Limit caps escape sequence payloads; some terminals drop larger ones.
const osc52Limit = 100_000

// Copier tries each copy method in turn.
type Copier struct {
	native  func(text string) error
	term    io.Writer
	isTTY   func() bool
	getenv  func(string) string
	tempDir string
}

// New returns a Copier that writes escape sequences to stderr, leaving
// stdout to the terminal UI renderer.
func New() *Copier {
	return &Copier{
		native: atotto.WriteAll,
		term:   os.Stderr,
		isTTY:  func() bool { return term.IsTerminal(int(os.Stderr.Fd())) },
		getenv: os.Getenv,
	}
}

// WriteAll copies text with a default Copier.
func WriteAll(text string) (Result, error) {
	return New().WriteAll(text)
}

// WriteAll copies text to the system clipboard, falling back to an OSC52
// sequence and finally to a temp file.
func (c *Copier) WriteAll(text string) (Result, error) {
	if c.native != nil && c.native(text) == nil {
		return Result{Method: MethodNative}, nil
	}
	if c.osc52(text) == nil {
		return Result{Method: MethodOSC52}, nil
	}
	path, err := c.tempFile(text)
	if err != nil {
		return Result{}, fmt.Errorf("no clipboard available and temp file failed: %w", err)
	}
	return Result{Method: MethodFile, FilePath: path}, nil
}

func (c *Copier) osc52(text string) error {
	switch {
	case text == "":
		return errors.New("empty text")
	case len(text) > osc52Limit:
		return fmt.Errorf("text exceeds OSC52 limit (%d > %d bytes)", len(text), osc52Limit)
	case c.term == nil || c.isTTY == nil || !c.isTTY():
		return errors.New("not a terminal")
	}

	seq := osc52.New(text).Limit(osc52Limit)
	if c.getenv("TMUX") != "" {
		seq = seq.Tmux()
	} else if c.getenv("STY") != "" {
		seq = seq.Screen()
	}
	_, err := seq.WriteTo(c.term)
	return err
}

func (c *Copier) tempFile(text string) (path string, err error) {
	f, err := os.CreateTemp(c.tempDir, "commander-clip-*.txt")
	if err != nil {
		return "", err
	}
	path = filepath.Clean(f.Name())
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()
	_, err = io.WriteString(f, text)
	return path, err
}
