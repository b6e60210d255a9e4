// Package kafkaclient builds the sarama client and admin handles shared by
// every component that talks to the cluster, the same connection-setup
// shape as the teacher's internal/plugin/kafka Connect method: one
// sarama.Config, SASL/TLS wired in from the application config, a
// sarama.Client, and a sarama.ClusterAdmin built on top of it.
package kafkaclient

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/kafkesc/kcl-lag-exporter/internal/kconfig"
)

// Handles bundles the client and admin connections every emitter and the
// offsets-topic consumer are built from.
type Handles struct {
	Client sarama.Client
	Admin  sarama.ClusterAdmin
}

// Dial builds a sarama client and cluster admin from the given Kafka
// configuration. A dial or admin-allocation failure is fatal at startup
// (spec.md §7: "panics on required startup allocations ... treated as
// fatal").
func Dial(cfg kconfig.KafkaConfig) (*Handles, error) {
	scfg := sarama.NewConfig()
	scfg.Version = sarama.V2_8_0_0
	scfg.Net.DialTimeout = 10 * time.Second
	scfg.Net.ReadTimeout = 10 * time.Second
	scfg.Net.WriteTimeout = 10 * time.Second
	scfg.Consumer.Return.Errors = true

	// The admin connection is shared by every emitter, so it carries one
	// request timeout rather than each emitter's own configured fetch
	// timeout (sarama's ClusterAdmin methods are synchronous and take no
	// context). 10s comfortably covers the cluster status emitter's 5s
	// budget; the consumer groups emitter's much tighter 100ms budget is
	// aspirational under this shared connection.
	scfg.Admin.Timeout = 10 * time.Second

	if cfg.SASLUsername != "" {
		scfg.Net.SASL.Enable = true
		scfg.Net.SASL.User = cfg.SASLUsername
		scfg.Net.SASL.Password = cfg.SASLPassword
		scfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
	}

	if cfg.TLSEnable {
		scfg.Net.TLS.Enable = true
		scfg.Net.TLS.Config = &tls.Config{InsecureSkipVerify: cfg.TLSInsecureSkip} //nolint:gosec // operator opt-in
	}

	client, err := sarama.NewClient(cfg.Brokers, scfg)
	if err != nil {
		return nil, fmt.Errorf("dialing kafka brokers %v: %w", cfg.Brokers, err)
	}

	admin, err := sarama.NewClusterAdminFromClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("building kafka cluster admin: %w", err)
	}

	return &Handles{Client: client, Admin: admin}, nil
}

// Close releases the admin and client handles, admin first, mirroring the
// teacher's Disconnect ordering.
func (h *Handles) Close() error {
	if h.Admin != nil {
		_ = h.Admin.Close()
	}
	if h.Client != nil {
		return h.Client.Close()
	}
	return nil
}
