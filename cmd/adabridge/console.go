package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
	"github.com/spf13/cobra"
)

func newConsoleCmd(opts *rootOptions) *cobra.Command {
	var prompt string
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Interactive shell for send/quit/status against a running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsole(prompt, consoleGlobalArgs(cmd))
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "adabridge> ", "Prompt string")
	return cmd
}

// consoleGlobalArgs replays the persistent flags the console was started
// with, so every line talks to the same daemon.
func consoleGlobalArgs(cmd *cobra.Command) []string {
	var args []string
	for _, name := range []string{"config", "env-file", "ipc-socket", "state-ws-addr", "log-level"} {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			args = append(args, "--"+name+"="+f.Value.String())
		}
	}
	return args
}

func runConsole(prompt string, globalArgs []string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     filepath.Join(os.TempDir(), "adabridge-console.history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Println("Type 'help' for commands, 'exit' to leave.")

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "exit":
			return nil
		case "help":
			printConsoleHelp()
			continue
		}

		tokens, err := shlex.Split(line)
		if err != nil {
			fmt.Printf("parse error: %v\n", err)
			continue
		}
		if err := runConsoleLine(tokens, globalArgs); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}

// runConsoleLine executes one tokenized line as a fresh root command.
func runConsoleLine(tokens, globalArgs []string) error {
	if len(tokens) == 0 {
		return nil
	}
	switch tokens[0] {
	case "serve", "console":
		return fmt.Errorf("%q is not available inside the console", tokens[0])
	}
	root := newRootCmd()
	root.SilenceErrors = true
	root.SetArgs(append(append([]string{}, tokens...), globalArgs...))
	return root.Execute()
}

func printConsoleHelp() {
	fmt.Println("Commands:")
	fmt.Println("  send <command> [key=value ...]   e.g. send setVolume volumeLevel=30")
	fmt.Println("  status                           print the current local snapshot")
	fmt.Println("  quit                             stop the daemon")
	fmt.Println("  exit                             leave the console")
}
