// Command hrchat runs the chat server: WebSocket gateway, uploads and probes.
package main

import (
	"log"

	"hrchat/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
