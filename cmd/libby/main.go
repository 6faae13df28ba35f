package main

import (
	"os"

	"github.com/robinjoseph08/golib/logger"
)

func main() {
	log := logger.New()

	if err := newApp().Run(os.Args); err != nil {
		log.Err(err).Fatal("app run error")
	}
}
