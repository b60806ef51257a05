package main

import (
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/daraja-sandbox/daraja-sandbox-backend/cmd"
)

// Version is the official version of this application.
const Version = "0.3.0"

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Debugf("no .env file loaded: %s", err)
	}

	if err := cmd.SetupCLI(Version).Execute(); err != nil {
		logrus.Fatalf("executing command: %s", err)
	}
}
