package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/test/mockendpoint"
)

func main() {
	addr := flag.String("addr", ":8080", "Server address")
	tokenDelay := flag.Duration("token-delay", 20*time.Millisecond, "Delay between streamed tokens")
	fragment := flag.Int("fragment-size", 7, "Bytes per write of streamed frames (0 writes whole frames)")
	flag.Parse()

	state := mockendpoint.NewState()
	state.SetTokenDelay(*tokenDelay)
	state.SetFragmentSize(*fragment)
	server := mockendpoint.NewServer(state)

	// Handle graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down mock endpoint...")
		os.Exit(0)
	}()

	log.Printf("Starting mock TGI/vLLM endpoint on %s", *addr)
	if err := server.Run(*addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
