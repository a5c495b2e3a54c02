// Package cli provides the interactive workspace command-line client.
//
// It drives the client stores from a read–eval–print loop: sign in and out,
// list and edit projects, open documents, and toggle the calendar panel.
// Every command goes through the same stores a graphical front-end would
// use, so session changes made by another process show up in the prompt.
//
// The REPL is started via Shell.Run(ctx), which blocks until the user exits.
// See Shell and runREPL for details.
package cli
