// Copyright 2026 Scanner Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package config loads the scanner process's configuration.

# Overview

config owns multi-source loading of engine tuning knobs (ScanConfig),
logging, telemetry, and execution-history sink selection, merged in the
order "defaults -> YAML file -> environment variables".

# Core types

  - Config: the top-level aggregate, covering Scan, Log, Telemetry and
    History.
  - Loader: builder-pattern loader supporting a chained config path, env
    prefix and custom validators.
  - ScanConfig.ToEngineConfig: converts the YAML/env-facing string fields
    into scan.ScanConfig's typed enums.

# Usage

	cfg, err := config.NewLoader().
		WithConfigPath("config.yaml").
		WithEnvPrefix("SCANNER").
		Load()
*/
package config
