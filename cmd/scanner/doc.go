// Copyright 2026 Scanner Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package main is the scanner command-line entry point.

# Overview

cmd/scanner is a demo executable for the check-execution engine: it loads
a YAML configuration, seeds an in-memory capture/replay host with one
request/response pair, registers the bundled reference checks, and runs
a scan against it, printing findings to stdout. It also exposes the
execution-history database migration commands.

# Commands

  - run       — seed a request and run the bundled CSP checks against it
  - migrate   — apply/rollback/inspect execution-history schema migrations
  - version   — print Version, BuildTime and GitCommit (set via ldflags)
  - help      — print usage

# Notes

The engine itself has no HTTP API or UI; those are host-application
concerns outside this module. This binary exists to exercise
scan.Registry, scan.Runner and the hostsdk.Host contract end to end
against a real (if minimal) host implementation, hostsdk.MemoryHost.
*/
package main
