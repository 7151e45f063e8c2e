// P1 reader acquires telegrams from a smart meter port or a capture file,
// decodes them and hands the readings to one of its subcommands.
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
