// The main package for the llm-docs-crawler executable.
package main

import (
	"github.com/JakeFAU/llm-docs-crawler/cmd"
)

func main() {
	cmd.Execute()
}
