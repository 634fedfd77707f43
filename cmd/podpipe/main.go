package main

import (
	"podpipe/cmd/handlers"
	"podpipe/internal/logger"
)

func main() {
	logger.Init()
	handlers.Execute()
}
