// The main package for the bulletins executable.
package main

import "github.com/JakeFAU/transit-bulletin-crawler/cmd"

func main() {
	cmd.Execute()
}
