package natsclient

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sifan077/SlotBoard/config"
	"github.com/sifan077/SlotBoard/internal/app/model"
)

const defaultConnectTimeout = 5 * time.Second

// Connect creates a NATS connection (with JetStream available) using application config.
func Connect(cfg config.NATSConfig) (*nats.Conn, nats.JetStreamContext, error) {
	opts := []nats.Option{
		nats.Timeout(defaultConnectTimeout),
		nats.Name("slotboard"),
	}

	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	url := buildURL(cfg)

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("nats: connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("nats: init jetstream: %w", err)
	}

	return conn, js, nil
}

// EnsureListingStream creates the LISTINGS stream carrying lifecycle events
// and sweep requests, or widens its subjects if it already exists.
func EnsureListingStream(js nats.JetStreamContext) error {
	want := StreamConfig()

	info, err := js.StreamInfo(model.ListingStreamName)
	if err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return fmt.Errorf("nats: stream info: %w", err)
		}
		if _, err := js.AddStream(want); err != nil {
			return fmt.Errorf("nats: create stream: %w", err)
		}
		return nil
	}

	if sameSubjects(info.Config.Subjects, want.Subjects) {
		return nil
	}
	updated := info.Config
	updated.Subjects = want.Subjects
	if _, err := js.UpdateStream(&updated); err != nil {
		return fmt.Errorf("nats: update stream: %w", err)
	}
	return nil
}

// StreamConfig describes the LISTINGS stream.
func StreamConfig() *nats.StreamConfig {
	return &nats.StreamConfig{
		Name:     model.ListingStreamName,
		Subjects: []string{model.ListingEventSubject + ".>", model.ListingSweepSubject},
		MaxBytes: model.ListingStreamMaxBytes,
		MaxAge:   model.ListingStreamMaxAge,
		Storage:  nats.FileStorage,
	}
}

func sameSubjects(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}

func buildURL(cfg config.NATSConfig) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 4222
	}
	return fmt.Sprintf("nats://%s:%d", host, port)
}
