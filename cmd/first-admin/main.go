// Copyright (C) 2025 Cisco Systems, Inc.
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Command first-admin manages the FIRST server's users and engine
// catalog directly against the database. Run it on the host carrying
// the SQLite file while the server is stopped or idle.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
