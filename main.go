// SPDX-License-Identifier: MPL-2.0

// Command modlink resolves the framework packages an entry source imports,
// copies them into an output directory and writes an import map.
package main

import "github.com/modlink/modlink/cmd/modlink"

func main() {
	cmd.Execute()
}
