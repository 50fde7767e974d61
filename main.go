package main

import "cerechat/cmd"

func main() {
	cmd.Execute()
}
