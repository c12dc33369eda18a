package main

import "github.com/roessland/wattwich/cmd"

func main() {
	cmd.Execute()
}
