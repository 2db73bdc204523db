package main

import (
	"github.com/eleven-am/live-captions/internal/bootstrap"
)

func main() {
	bootstrap.Run()
}
