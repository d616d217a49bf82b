// Package client contains the remote-facing building blocks of the sync
// engine.
//
// # Overview
//
// The package provides:
//  1. Transport-agnostic contracts for the remote data store (RemoteStore)
//     and the identity provider (AuthClient).
//  2. A gRPC implementation of both (GRPCClient) that injects an access token
//     via an interceptor, transparently refreshes expired tokens, maps gRPC
//     status codes to sentinel errors and probes reachability through the
//     standard health service.
//  3. Local persistence bootstrap (InitDatabase, RunMigrations) wiring an
//     SQLite database and applying embedded goose migrations.
//
// # Error Handling
//
// Remote failures are ErrUnavailable, ErrRejected or ErrUnauthorized and are
// classified with IsRetryable. Offline sign-in failures are
// ErrOfflineCredentialsUnavailable and ErrOfflineCredentialsInvalid.
//
// All operations accept context.Context and honor cancellation and timeouts.
package client
