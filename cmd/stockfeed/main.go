package main

import "stockfeed/internal/cli"

func main() {
	cli.Execute()
}
