package main

import "captiongen/cli"

func main() {
	cli.Execute()
}
