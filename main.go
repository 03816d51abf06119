package main

import (
	"github.com/indecryption/chat-node/internal/cmd"
)

func main() {
	cmd.Execute()
}
