package main

import "chai/internal/cli"

func main() {
	cli.Execute()
}
