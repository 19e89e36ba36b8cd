package main

import (
	"os"

	"horse.fit/leadscan/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
