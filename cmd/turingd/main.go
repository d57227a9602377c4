// Command turingd serves matchmaking and room lifecycle for the Turing chat
// game, and carries a few operator subcommands.
package main

import (
	"log"

	"github.com/spf13/cobra"
)

const releaseVersion = "0.1.0"

func main() {
	log.SetFlags(0)
	cobra.CheckErr(newRootCmd().Execute())
}
