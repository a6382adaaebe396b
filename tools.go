//go:build tools
// +build tools

// Package tools pins code generators used through go generate.
package main

import (
	_ "go.uber.org/mock/mockgen"
)
