// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

//go:build mage

package main

import (
	"fmt"
	"path/filepath"

	"github.com/magefile/mage/mg"
)

// Eval scores one OpenAlex work with the locally built binary.
func Eval(id string) error {
	mg.Deps(Build)
	fmt.Printf("[eval] Scoring %s.\n", id)
	return run(filepath.Join(binDir, binName), "eval", id)
}

// Batch scores data/challenge_data.csv, resuming from the last checkpoint.
func Batch() error {
	mg.Deps(Build)
	fmt.Println("[batch] Scoring data/challenge_data.csv.")
	return run(filepath.Join(binDir, binName), "batch", "data/challenge_data.csv")
}

// Serve starts the interactive server on the configured address.
func Serve() error {
	mg.Deps(Build)
	fmt.Println("[serve] Starting interactive server.")
	return run(filepath.Join(binDir, binName), "serve")
}
