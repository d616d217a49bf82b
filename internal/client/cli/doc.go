// Package cli provides the interactive fieldsync console.
//
// It restores or establishes a session, starts the engine's background work
// and runs a REPL over farm records. Writes go through the sync engine, so
// they succeed offline and are delivered when the network returns; network
// transitions and pending-count changes are printed as they happen.
//
// Commands:
//   - login / logout [--force]
//   - status
//   - add <target>, update <target> <id>, delete <target> <id>
//   - list <target> | list <target>/<id>
//   - pending, sync, retry <id>, discard <id>
//   - help, exit
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
