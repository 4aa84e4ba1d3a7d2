package main

import "github.com/vietddude/blockimport/internal/cli"

func main() {
	cli.Execute()
}
