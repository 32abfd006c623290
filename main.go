package main

import "github.com/aukanara2010-dot/facepass-sub001/cmd"

func main() {
	cmd.Execute()
}
