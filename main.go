package main

import "github.com/naka-gawa/contrib-counter/cmd"

func main() {
	cmd.Execute()
}
