package main

import "github.com/coverline/server/cmd/server/cmd"

func main() {
	cmd.Execute()
}
