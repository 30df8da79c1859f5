package main

import "github.com/brandloom/personachat/cmd"

func main() {
	cmd.Execute()
}
