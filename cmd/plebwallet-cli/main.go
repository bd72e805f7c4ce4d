package main

import "github.com/pandodao/plebwallet/cmd/plebwallet-cli/cmd"

func main() {
	cmd.Execute()
}
