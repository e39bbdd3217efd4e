// Command monitortask watches web pages for changes and alerts chat groups.
package main

import (
	"github.com/rockmelodies/MonitorTask/cmd"
)

func main() {
	cmd.Execute()
}
