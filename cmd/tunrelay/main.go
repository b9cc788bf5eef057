package main

import "github.com/caldog20/tunrelay/node/cmd"

func main() {
	cmd.Execute()
}
