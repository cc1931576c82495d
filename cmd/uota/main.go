// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package main

import "github.com/fumi-engineer/uota/cmd/uota/commands"

func main() {
	commands.Execute()
}
