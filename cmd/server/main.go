package main

import (
	"github.com/OFFIS-RIT/biograph/internal/server"
	"github.com/OFFIS-RIT/biograph/internal/util"
	"github.com/OFFIS-RIT/biograph/pkg/logger"
	"github.com/OFFIS-RIT/biograph/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
		JSON:  util.GetEnvBool("LOG_JSON", false),
	})
	logger.Init(consoleLogger)

	server.Init()
}
