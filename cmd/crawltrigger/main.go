// The main package for the crawltrigger executable.
package main

import "github.com/JakeFAU/notice-notifier/cmd"

func main() {
	cmd.Execute()
}
