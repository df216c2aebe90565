// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ergochat/readline"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const historySize = 500

var shellQuiet bool

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive command shell",
	Long: `Send commands to the configured instruments from an interactive shell.

Lines are commands for the selected instrument, for example "FUNC DCV" or
"RANGE max=30". Prefix a line with an instrument name to address another one
("level FREQ 1000"). A trailing '&' queues the command without waiting.

Shell commands:
  use <instrument>   select the instrument
  list               list instruments
  help [opcode]      list opcodes or show one opcode's parameters
  settings           show the current settings
  status             show the last status and decoded error registers
  stats [reset]      show or clear transaction statistics
  quit               leave the shell

Readings and status changes are printed as they arrive. When stdin is not a
terminal the shell reads commands line by line, so it can be scripted.`,
	RunE: runShell,
}

func init() {
	rootCmd.AddCommand(shellCmd)
	shellCmd.Flags().BoolVarP(&shellQuiet, "quiet", "q", false, "Do not print readings and status changes")
}

// lineEditor reads lines with readline on a terminal and bufio otherwise
type lineEditor struct {
	rl      *readline.Instance
	scanner *bufio.Scanner
	mu      sync.Mutex
}

func newLineEditor() *lineEditor {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return &lineEditor{scanner: bufio.NewScanner(os.Stdin)}
	}

	history := ""
	if path, err := historyPath(); err == nil {
		history = path
	}
	rl, err := readline.NewFromConfig(&readline.Config{
		HistoryFile:            history,
		HistoryLimit:           historySize,
		DisableAutoSaveHistory: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: readline init failed (%v), using basic input\n", err)
		return &lineEditor{scanner: bufio.NewScanner(os.Stdin)}
	}
	return &lineEditor{rl: rl}
}

func historyPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "benchtop", "history"), nil
}

func (le *lineEditor) getLine(prompt string) (string, error) {
	if le.rl == nil {
		fmt.Print(prompt)
		if !le.scanner.Scan() {
			if err := le.scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		return le.scanner.Text(), nil
	}

	le.rl.SetPrompt(prompt)
	line, err := le.rl.Readline()
	if err != nil {
		if errors.Is(err, readline.ErrInterrupt) {
			return "", io.EOF
		}
		return "", err
	}
	if trimmed := strings.TrimSpace(line); trimmed != "" {
		le.rl.SaveToHistory(trimmed)
	}
	return line, nil
}

// printf writes above the prompt without garbling the line being edited
func (le *lineEditor) printf(format string, args ...interface{}) {
	le.mu.Lock()
	defer le.mu.Unlock()
	text := fmt.Sprintf(format, args...)
	if le.rl != nil {
		le.rl.Write([]byte(text))
		return
	}
	fmt.Print(text)
}

func (le *lineEditor) close() {
	if le.rl != nil {
		le.rl.Close()
		le.rl = nil
	}
}

func runShell(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	le := newLineEditor()
	defer le.close()

	emit := func(ev event) {
		if shellQuiet && ev.kind != eventConnection {
			return
		}
		switch ev.kind {
		case eventReading:
			le.printf("[%s] %s %s\n", ev.time.Format("15:04:05.000"), ev.instrument, ev.text)
		case eventStatus:
			le.printf("[%s] %s status %s\n", ev.time.Format("15:04:05.000"), ev.instrument, ev.text)
		case eventConnection:
			le.printf("[%s] %s\n", ev.time.Format("15:04:05.000"), ev.text)
		}
	}

	s, err := openSession(ctx, emit)
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Printf("Benchtop shell - %s\n", s.connInfo)
	s.start(ctx, true)

	current := s.stations[0]
	for {
		line, err := le.getLine(current.Name() + "> ")
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		word, rest, _ := strings.Cut(line, " ")
		switch strings.ToLower(word) {
		case "quit", "exit":
			return nil
		case "use":
			st, ok := s.station(strings.TrimSpace(rest))
			if !ok {
				le.printf("no instrument named %q\n", rest)
				continue
			}
			current = st
			continue
		case "list":
			for _, st := range s.stations {
				le.printf("  %-10s %-8s address %d\n", st.Name(), st.Model(), st.Address())
			}
			continue
		case "help":
			shellHelp(le, current, strings.TrimSpace(rest))
			continue
		case "settings":
			if text := current.Settings(); text != "" {
				le.printf("%s\n", text)
			} else {
				le.printf("no settings yet\n")
			}
			continue
		case "status":
			shellStatus(le, current)
			continue
		case "stats":
			if strings.TrimSpace(rest) == "reset" {
				current.ResetStatistics()
				le.printf("statistics cleared\n")
				continue
			}
			stats := current.Statistics()
			le.printf("%s", stats.String())
			continue
		}

		target := current
		if st, ok := s.station(word); ok && rest != "" {
			target = st
			line = rest
		}

		res, err := target.Exec(ctx, line)
		if err != nil {
			le.printf("error: %v\n", err)
		}
		for _, reply := range res.Replies {
			le.printf("< %s\n", strings.TrimRight(string(reply), "\r\n"))
		}
		if res.Value != nil {
			le.printf("= %v\n", res.Value)
		}
	}
}

func shellHelp(le *lineEditor, st station, opcode string) {
	if opcode != "" {
		text, ok := st.Help(opcode)
		if !ok {
			le.printf("unknown opcode %q\n", opcode)
			return
		}
		le.printf("%s\n", text)
		return
	}
	ops := st.Opcodes()
	sort.Strings(ops)
	le.printf("%s opcodes: %s\n", st.Model(), strings.Join(ops, " "))
}

func shellStatus(le *lineEditor, st station) {
	status, ok := st.Status()
	if !ok {
		le.printf("no status yet\n")
		return
	}
	le.printf("%s\n", status.String())
	for _, text := range st.DescribeStatus(status) {
		le.printf("  %s\n", text)
	}
}
