package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Login(ctx context.Context) error
	Logout(ctx context.Context, args []string) error
	Status(ctx context.Context) error
	Add(ctx context.Context, args []string) error
	Update(ctx context.Context, args []string) error
	Delete(ctx context.Context, args []string) error
	List(ctx context.Context, args []string) error
	Pending(ctx context.Context) error
	Sync(ctx context.Context) error
	Retry(ctx context.Context, args []string) error
	Discard(ctx context.Context, args []string) error
}

const (
	helpLoggedOut = "Available commands: login, status, exit"
	helpLoggedIn  = "Available commands: status, add, update, delete, (l)ist, pending, sync, retry, discard, logout, exit"
)

// sessionCommands need a signed-in user.
var sessionCommands = map[string]bool{
	"add": true, "update": true, "delete": true, "l": true, "list": true,
	"pending": true, "sync": true, "retry": true, "discard": true, "logout": true,
}

// runREPL reads commands line by line from r and dispatches them to a. The
// prompt shows statusFn. Errors returned by handlers are printed and the
// loop goes on. It returns on EOF or on "exit" / "quit".
func runREPL(ctx context.Context, a execIface, statusFn func() string, r *bufio.Reader, w io.Writer) {
	for {
		fmt.Fprintf(w, "fieldsync (%s)> ", statusFn())

		line, err := r.ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintln(w)
			return
		}

		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		if sessionCommands[cmd] && !a.isLoggedIn() {
			fmt.Fprintln(w, "Please login first")
			continue
		}

		var cmdErr error
		switch cmd {
		case "help":
			if a.isLoggedIn() {
				fmt.Fprintln(w, helpLoggedIn)
			} else {
				fmt.Fprintln(w, helpLoggedOut)
			}
		case "login":
			cmdErr = a.Login(ctx)
		case "logout":
			cmdErr = a.Logout(ctx, args)
		case "status":
			cmdErr = a.Status(ctx)
		case "add":
			cmdErr = a.Add(ctx, args)
		case "update":
			cmdErr = a.Update(ctx, args)
		case "delete":
			cmdErr = a.Delete(ctx, args)
		case "l", "list":
			cmdErr = a.List(ctx, args)
		case "pending":
			cmdErr = a.Pending(ctx)
		case "sync":
			cmdErr = a.Sync(ctx)
		case "retry":
			cmdErr = a.Retry(ctx, args)
		case "discard":
			cmdErr = a.Discard(ctx, args)
		case "exit", "quit":
			fmt.Fprintln(w, "Bye!")
			return
		default:
			fmt.Fprintln(w, "Unknown command:", cmd)
		}

		if cmdErr != nil {
			var u usageError
			if errors.As(cmdErr, &u) {
				fmt.Fprintln(w, "Usage:", string(u))
			} else {
				fmt.Fprintln(w, "error:", cmdErr)
			}
		}
	}
}

// usageError carries the usage line of a command called with bad arguments.
type usageError string

func (u usageError) Error() string { return "usage: " + string(u) }
