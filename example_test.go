package sseresume_test

import (
	"fmt"
	"net/http"
	"time"

	"github.com/advbet/sseresume"
)

func tickSource(out chan<- sseresume.Event) {
	for i := 0; true; i++ {
		out <- sseresume.Event{
			Event: "counter",
			Data: map[string]interface{}{
				"msg": "ticks since start",
				"val": i,
			},
		}
		time.Sleep(time.Second)
	}
}

func Example_server() {
	history := sseresume.NewHistory(500)
	streamer := sseresume.NewStreamer(history, sseresume.DefaultConfig, sseresume.StreamerConfig{
		AllowedTypes: []string{"counter"},
	})

	source := make(chan sseresume.Event)
	go tickSource(source)

	http.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		if err := streamer.Serve(w, r, source); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	fmt.Println(http.ListenAndServe(":8000", nil))

	// Test with:
	//   curl http://localhost:8000/events
	//   curl -H "Last-Event-ID: 5" http://localhost:8000/events
	//   curl http://localhost:8000/events?lastEventId=5
}

func Example_client() {
	client := sseresume.NewClient("http://localhost:8000/events", sseresume.ClientConfig{
		ReconnectInterval: 3 * time.Second,
		MaxRetryAttempts:  10,
		HeartbeatInterval: 15 * time.Second,
		OnRetryExhausted: func() {
			fmt.Println("gave up reconnecting")
		},
	})

	client.On("counter", func(e sseresume.Event) {
		fmt.Printf("event %d: %v\n", e.ID, e.Data)
	})
	client.On(sseresume.DefaultHeartbeatEvent, func(e sseresume.Event) {
		fmt.Println("still alive")
	})

	client.Connect()
	defer client.Close()

	select {}
}
