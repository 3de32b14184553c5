package main

import (
	"flag"

	"whispr/backend/server"

	"github.com/apex/log"
)

func main() {
	flag.Parse()
	log.Info("Hello!")
	server.StartService()
	log.Info("Bye!")
}
