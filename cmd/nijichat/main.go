package main

import "nijichat/internal/cli"

func main() {
	cli.Execute()
}
