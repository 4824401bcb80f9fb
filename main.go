package main

import (
	"github.com/whisperq/whisperq/cmd/whisperq"
)

func main() {
	whisperq.Execute()
}
