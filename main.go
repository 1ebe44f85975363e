package main

import "lilac/cmd"

func main() {
	cmd.Execute()
}
