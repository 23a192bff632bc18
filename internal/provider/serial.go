package provider

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// Serial reads NMEA sentences from a GPS receiver on a serial port.
type Serial struct {
	port string
	baud int
	log  logrus.FieldLogger
}

func NewSerial(port string, baud int, log logrus.FieldLogger) *Serial {
	return &Serial{port: port, baud: baud, log: log}
}

func (p *Serial) Watch(ctx context.Context, out chan<- Event) error {
	port, err := serial.Open(p.port, &serial.Mode{BaudRate: p.baud})
	if err != nil {
		return fmt.Errorf("open %s: %w", p.port, err)
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		// Closing unblocks the pending Read.
		_ = port.Close()
	}()
	p.log.WithFields(logrus.Fields{"port": p.port, "baud": p.baud}).Info("reading nmea")
	return ReadNMEA(ctx, port, out, p.log)
}

// ReadNMEA feeds lines from r through an NMEA assembler until r is exhausted
// or ctx is cancelled.
func ReadNMEA(ctx context.Context, r io.Reader, out chan<- Event, log logrus.FieldLogger) error {
	var n NMEA
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		ev, ok, err := n.Feed(sc.Text())
		if err != nil {
			log.WithError(err).Debug("skipping nmea sentence")
			continue
		}
		if ok && !send(ctx, out, ev) {
			return ctx.Err()
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read nmea: %w", err)
	}
	return io.EOF
}
