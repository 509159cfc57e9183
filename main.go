package main

import "harvest/cmd"

func main() {
	cmd.Execute()
}
