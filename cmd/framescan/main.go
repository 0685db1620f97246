package main

import "github.com/MeKo-Tech/framescan/cmd/framescan/cmd"

func main() {
	cmd.Execute()
}
