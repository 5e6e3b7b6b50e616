package main

import "mailsnooze/internal/cli"

func main() {
	cli.Execute()
}
