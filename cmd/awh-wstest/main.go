// Wstest tests this module's WebSocket client against the fuzzing
// server of the Autobahn Testsuite.
//
// https://github.com/crossbario/autobahn-testsuite
package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/kosmosnet/awh/internal/logger"
	"github.com/kosmosnet/awh/pkg/webclient"
)

const (
	baseURL = "ws://127.0.0.1:9001"
	agent   = "awh"
)

func main() {
	n := getCaseCount()
	slog.Info("case count", slog.Int("n", n))

	for i := 1; i <= n; i++ {
		runCase(i)
	}

	updateReports()
}

// dial connects a client to url and blocks until the handshake
// completes or fails.
func dial(url string, cb webclient.Callbacks) (*webclient.Client, error) {
	c, err := webclient.New(webclient.Options{URL: url}, cb)
	if err != nil {
		return nil, err
	}
	if err := c.Connect(context.Background()); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// getCaseCount retrieves the number of enabled test cases from the
// Autobahn fuzzing server, using a WebSocket request.
func getCaseCount() int {
	count := make(chan int, 1)

	c, err := dial(baseURL+"/getCaseCount", webclient.Callbacks{
		Message: func(data []byte, binary bool) {
			n, err := strconv.Atoi(string(data))
			if err != nil {
				logger.FatalError("invalid test case count", err)
			}
			count <- n
		},
		End: func() { close(count) },
	})
	if err != nil {
		logger.FatalError("dial error", err)
	}
	defer c.Close()

	n, ok := <-count
	if !ok {
		slog.Debug("connection closed")
		return 0
	}
	return n
}

// updateReports instructs the Autobahn fuzzing server to generate or
// update the HTML and JSON report files for every test case's result.
func updateReports() {
	slog.Info("updating reports")

	url := fmt.Sprintf("%s/updateReports?agent=%s", baseURL, agent)
	c, err := dial(url, webclient.Callbacks{})
	if err != nil {
		logger.FatalError("dial error", err)
	}
	defer c.Close()
}

func runCase(i int) {
	l := slog.With(slog.Int("case", i))
	l.Info("starting test")

	done := make(chan struct{})
	url := fmt.Sprintf("%s/runCase?case=%d&agent=%s", baseURL, i, agent)

	var c *webclient.Client
	cl, err := dial(url, webclient.Callbacks{
		Message: func(data []byte, binary bool) {
			l.Info("received message", slog.Int("length", len(data)))
			if err := c.Send(data, binary); err != nil {
				l.Error("echo error", slog.Any("error", err))
			}
		},
		End: func() {
			l.Debug("connection closed")
			close(done)
		},
	})
	if err != nil {
		logger.FatalError("dial error", err)
	}
	c = cl
	defer c.Close()

	<-done
}
