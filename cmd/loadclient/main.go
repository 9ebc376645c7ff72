package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"market-stream/src/logger"
	"market-stream/src/models"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// counters tracks what the simulated clients observed.
type counters struct {
	active   atomic.Int64
	created  atomic.Int64
	failed   atomic.Int64
	rejected atomic.Int64
	messages atomic.Int64
	updates  atomic.Int64
}

// -----------------------------------------------------------------------------

func main() {
	url := flag.String("url", "ws://127.0.0.1:8000/ws", "websocket endpoint")
	target := flag.Int("connections", 100, "number of clients to open")
	ramp := flag.Float64("ramp", 50, "new connections per second")
	duration := flag.Duration("duration", time.Minute, "how long to hold the connections")
	symbols := flag.String("symbols", "AAPL,BITCOIN", "comma separated symbols each client subscribes to")
	flag.Parse()

	log := logger.NewLogger(nil, "LoadClient")
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ctx, stop := context.WithTimeout(ctx, *duration)
	defer stop()

	stats := &counters{}
	limiter := rate.NewLimiter(rate.Limit(*ramp), 1)
	subscribe, _ := json.Marshal(models.MInbound{Action: "subscribe", Symbols: strings.Split(*symbols, ",")})

	go report(ctx, log, stats)

	var wg sync.WaitGroup
	for i := 0; i < *target; i++ {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			runClient(ctx, *url, subscribe, stats, log)
		}()
	}

	log.Info("Opened %d connections, holding until %v", stats.created.Load(), *duration)
	<-ctx.Done()
	wg.Wait()

	log.Info("Done: created=%d failed=%d rejected=%d messages=%d updates=%d",
		stats.created.Load(), stats.failed.Load(), stats.rejected.Load(), stats.messages.Load(), stats.updates.Load())
}

// -----------------------------------------------------------------------------

func runClient(ctx context.Context, url string, subscribe []byte, stats *counters, log *logger.Logger) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		stats.failed.Add(1)
		log.Debug("Dial failed: %v", err)
		return
	}
	defer conn.Close()

	stats.created.Add(1)
	stats.active.Add(1)
	defer stats.active.Add(-1)

	if err := conn.WriteMessage(websocket.TextMessage, subscribe); err != nil {
		stats.failed.Add(1)
		return
	}

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseTryAgainLater) {
				stats.rejected.Add(1)
			}
			return
		}
		stats.messages.Add(1)

		var msg models.MOutbound
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		switch msg.Type {
		case models.MessageUpdate:
			stats.updates.Add(1)
		case models.MessageHeartbeat:
			reply, _ := json.Marshal(models.MInbound{Action: "heartbeat"})
			_ = conn.WriteMessage(websocket.TextMessage, reply)
		}
	}
}

// -----------------------------------------------------------------------------

func report(ctx context.Context, log *logger.Logger, stats *counters) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Info("active=%d created=%d failed=%d rejected=%d messages=%d updates=%d",
				stats.active.Load(), stats.created.Load(), stats.failed.Load(),
				stats.rejected.Load(), stats.messages.Load(), stats.updates.Load())
		}
	}
}
