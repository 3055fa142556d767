package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/septivank/water-flow-monitor/internal/events"
	"github.com/septivank/water-flow-monitor/internal/liveclient"
	"go.uber.org/zap"
)

func main() {
	url := flag.String("url", "ws://localhost:5000/ws", "live channel URL")
	token := flag.String("token", os.Getenv("FLOWWATCH_TOKEN"), "operator bearer token")
	reconnect := flag.Duration("reconnect", liveclient.DefaultReconnectDelay, "delay before reconnecting")
	flag.Parse()

	// the terminal belongs to the UI, so client logs are discarded
	logger := zap.NewNop()

	var program *tea.Program
	opts := []liveclient.Option{
		liveclient.WithReconnectDelay(*reconnect),
		liveclient.WithStatusListener(func(s liveclient.Status) {
			program.Send(statusMsg(s))
		}),
		liveclient.WithMessageListener(func(env events.RawEnvelope) {
			program.Send(envelopeMsg(env))
		}),
	}
	if *token != "" {
		opts = append(opts, liveclient.WithHeader(http.Header{"Authorization": {"Bearer " + *token}}))
	}

	manager := liveclient.NewManager(*url, logger, opts...)
	program = tea.NewProgram(newModel(manager), tea.WithAltScreen())

	// listeners block until the program runs
	go manager.Connect()
	defer manager.Close()

	if _, err := program.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "flowwatch:", err)
		os.Exit(1)
	}
}
