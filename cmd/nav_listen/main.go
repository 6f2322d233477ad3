package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// nav_listen connects to the navcam state websocket and prints frames as
// they arrive. Pose frames are throttled to changes of at least -min-move.

type envelope struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts"`
	Data json.RawMessage `json:"data"`
}

type pose struct {
	Position [3]float64 `json:"position"`
	Rotation [3]float64 `json:"rotation"`
	FOV      float64    `json:"fov"`
}

func main() {
	var (
		wsURL   = flag.String("ws", "ws://127.0.0.1:3080/ws", "navcam state websocket URL")
		minMove = flag.Float64("min-move", 0.01, "Minimum position/rotation/fov change to print a pose")
		raw     = flag.Bool("raw", false, "Print raw frames")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	var writeMu sync.Mutex

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	// The daemon pings every 20s; gorilla answers with pongs. Pings from
	// this side keep the read deadline fresh when the daemon is quiet.
	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	go func() {
		for range pingTicker.C {
			writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				log.Printf("ping failed: %v", err)
				return
			}
		}
	}()

	p := &printer{minMove: *minMove, raw: *raw}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))

			switch messageType {
			case websocket.TextMessage:
				p.handle(message)
			case websocket.BinaryMessage:
				fmt.Printf("[BINARY] %d bytes\n", len(message))
			}
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

type printer struct {
	minMove  float64
	raw      bool
	lastPose *pose
}

func (p *printer) handle(message []byte) {
	if p.raw {
		fmt.Printf("%s\n", message)
		return
	}

	var env envelope
	if err := json.Unmarshal(message, &env); err != nil {
		fmt.Printf("[TEXT] %s\n", message)
		return
	}

	switch env.Type {
	case "pose":
		var ps pose
		if err := json.Unmarshal(env.Data, &ps); err != nil {
			fmt.Printf("[POSE] %s\n", env.Data)
			return
		}
		if p.lastPose != nil && !poseMoved(*p.lastPose, ps, p.minMove) {
			return
		}
		p.lastPose = &ps
		fmt.Printf("[POSE] pos=(%.3f %.3f %.3f) rot=(%.2f %.2f %.2f) fov=%.2f\n",
			ps.Position[0], ps.Position[1], ps.Position[2],
			ps.Rotation[0], ps.Rotation[1], ps.Rotation[2], ps.FOV)

	case "button", "bulb", "device":
		fmt.Printf("[%s] %s\n", strings.ToUpper(env.Type), env.Data)

	default:
		var pretty any
		if err := json.Unmarshal(env.Data, &pretty); err != nil {
			fmt.Printf("[%s] %s\n", strings.ToUpper(env.Type), env.Data)
			return
		}
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Printf("[%s]\n%s\n\n", strings.ToUpper(env.Type), out)
	}
}

func poseMoved(a, b pose, min float64) bool {
	for i := 0; i < 3; i++ {
		if math.Abs(a.Position[i]-b.Position[i]) >= min || math.Abs(a.Rotation[i]-b.Rotation[i]) >= min {
			return true
		}
	}
	return math.Abs(a.FOV-b.FOV) >= min
}
