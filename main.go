package main

import "github.com/amirhf/vibesearch/cmd"

func main() {
	cmd.Execute()
}
