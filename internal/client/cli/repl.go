package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real Shell type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Login(ctx context.Context, args []string) error
	Logout(ctx context.Context) error
	Whoami(ctx context.Context) error
	List(ctx context.Context) error
	Refresh(ctx context.Context) error
	Create(ctx context.Context, args []string) error
	Rename(ctx context.Context, args []string) error
	Delete(ctx context.Context, args []string) error
	Open(ctx context.Context, args []string) error
	Calendar(ctx context.Context) error
	Fork(ctx context.Context) error
}

// runREPL starts a simple read–eval–print loop for the workspace CLI.
//
// It reads a line from reader, parses the first token as the command, and
// dispatches to methods on 'a'. The rest of the line is passed as arguments.
// The loop exits on EOF or when the user types "exit" or "quit".
//
// Prompt & Commands
//
// The prompt shows the current status (from statusFn) and accepts commands:
//
//	Signed out:
//	  - help                 — show available commands
//	  - login [email]        — sign in
//	  - exit | quit          — leave the program
//
//	Signed in:
//	  - help                 — show available commands
//	  - whoami               — show the signed-in user
//	  - (l)ist               — list projects
//	  - refresh              — refetch the project list
//	  - create <name>        — create a project
//	  - rename <id> <name>   — rename a project
//	  - delete <id>          — delete a project after confirmation
//	  - open <id> <doc>      — print a project document
//	  - calendar             — toggle the calendar panel
//	  - fork                 — mint a token for a child window
//	  - logout               — sign out
//	  - exit | quit          — leave the program
//
// Command handlers report their own errors, so the loop ignores them.
// Reading shares the reader with the handlers' prompts.
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	for {
		printlnFn(fmt.Sprintf("desk %s> ", statusFn()))
		line, err := readLine(reader)
		if err != nil {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn("Available commands: whoami, (l)ist, refresh, create, rename, delete, open, calendar, fork, logout, exit")
			} else {
				printlnFn("Available commands: login, exit")
			}

		case "login":
			_ = a.Login(ctx, args)

		case "logout":
			_ = a.Logout(ctx)

		case "whoami":
			_ = a.Whoami(ctx)

		case "l", "list":
			_ = a.List(ctx)

		case "refresh":
			_ = a.Refresh(ctx)

		case "create":
			_ = a.Create(ctx, args)

		case "rename":
			_ = a.Rename(ctx, args)

		case "delete":
			_ = a.Delete(ctx, args)

		case "open":
			_ = a.Open(ctx, args)

		case "calendar":
			_ = a.Calendar(ctx)

		case "fork":
			_ = a.Fork(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}
