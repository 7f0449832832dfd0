// The main package for the oppcrawler executable.
package main

import (
	"github.com/JakeFAU/opportunity-crawler/cmd"
)

func main() {
	cmd.Execute()
}
