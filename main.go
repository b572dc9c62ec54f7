// Command labstorctl is the control-channel CLI for labstord, the
// labstor task-execution runtime daemon.
package main

import (
	"github.com/lukemartinlogan/labstor/cmd"
)

func main() {
	cmd.Execute()
}
