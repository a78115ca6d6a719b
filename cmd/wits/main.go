package main

import "github.com/oshokin/wits/cmd/wits/cmd"

func main() {
	cmd.Execute()
}
