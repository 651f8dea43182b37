// Command corebridge is the host harness wiring the bridge's components
// together: it maps a Mach-O image tree into the current process and
// drives a Runtime Core against it, the way a host embedding this
// module as a library would.
package main

import (
	"fmt"
	"os"

	"github.com/ius/corebridge/cmd/corebridge/internal/command"
)

func main() {
	if err := command.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
