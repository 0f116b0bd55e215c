// Copyright 2026 Scanner Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package migration manages database schema migrations for PostgreSQL,
MySQL and SQLite, built on golang-migrate. It versions the schema that
historystore/sql's execution-history sink depends on.

# Overview

Each dialect's SQL migration files are embedded via embed.FS and served
to golang-migrate through an iofs source driver, giving versioned
forward migration, rollback, step execution, jump-to-version and forced
version resets.

# Core types

  - Migrator: the interface (Up/Down/DownAll/Steps/Goto/Force/Version/
    Status/Info/PruneHistory/Close).
  - DefaultMigrator: the golang-migrate backed implementation.
  - Config: database type, connection URL, migrations table, lock
    timeout.
  - DatabaseType: postgres/mysql/sqlite.
  - MigrationStatus / MigrationInfo: status and summary views.
  - CLI: a formatted terminal wrapper around Migrator.

# Capabilities

  - Multi-database support: DatabaseType selects the embedded SQL set
    for its dialect.
  - Factory helpers: NewMigratorFromConfig / NewMigratorFromDatabaseConfig
    / NewMigratorFromURL build a migrator from different config sources.
  - CLI integration: RunUp/RunDown/RunStatus/RunInfo give formatted
    terminal output.
  - ParseDatabaseType parses a type string; BuildDatabaseURL assembles
    a dialect-appropriate connection URL.
*/
package migration
