//
// Copyright (C) 2026 Kestrel Authors. All rights reserved.
//
// kestrel is licensed under the Apache License Version 2.0.
//

// kestrel runs the multi-stage research workflow, either as an HTTP
// service or as one-shot CLI commands against a shared checkpoint store.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
