package probe

import (
	"StreamCoverage/internal/config"
	"StreamCoverage/internal/model"
	"log"

	"github.com/nats-io/nats.go"
)

// ObservationHandler is a function that processes a received observation.
type ObservationHandler func(obs model.Observation)

// Subscriber is responsible for subscribing to a NATS subject and processing messages.
type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
}

// NewSubscriber creates a new NATS subscriber.
func NewSubscriber(cfg config.ProbeConfig) (*Subscriber, error) {
	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return nil, err
	}
	log.Printf("Connected to NATS server at %s", cfg.NATSURL)
	return &Subscriber{nc: nc, subject: cfg.Subject}, nil
}

// Start subscribes to the configured subject and hands each decoded observation to handler.
func (s *Subscriber) Start(handler ObservationHandler) error {
	sub, err := s.nc.Subscribe(s.subject, func(msg *nats.Msg) {
		obs, err := DecodeObservation(msg.Data)
		if err != nil {
			log.Printf("Error decoding observation: %v", err)
			return
		}
		handler(obs)
	})
	if err != nil {
		return err
	}
	s.sub = sub
	log.Printf("Subscribed to '%s'. Waiting for messages...", s.subject)
	return nil
}

// Close unsubscribes and closes the NATS connection.
func (s *Subscriber) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Close()
		log.Println("NATS connection closed.")
	}
}
