package store

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/convsim/internal/config"
	"github.com/fyrsmithlabs/convsim/internal/secrets"
)

// Open builds the store selected by cfg. The returned close function
// releases any connection and is never nil.
func Open(cfg config.StoreConfig, logger *zap.Logger) (Store, func(), error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	noop := func() {}

	var (
		s       Store
		closeFn = noop
	)
	switch cfg.Kind {
	case "", "none":
		return Nop{}, noop, nil
	case "file":
		f, err := NewFile(cfg.Dir, logger)
		if err != nil {
			return nil, noop, err
		}
		s = f
	case "nats":
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("convsim"))
		if err != nil {
			return nil, noop, fmt.Errorf("connecting to nats: %w", err)
		}
		n, err := NewNATS(nc, NATSConfig{SubjectPrefix: cfg.SubjectPrefix, Logger: logger})
		if err != nil {
			nc.Close()
			return nil, noop, err
		}
		s, closeFn = n, nc.Close
	default:
		return nil, noop, fmt.Errorf("unknown store kind %q", cfg.Kind)
	}

	if cfg.Scrub {
		allow, err := secrets.LoadAllowlists(cfg.Allowlist)
		if err != nil {
			closeFn()
			return nil, noop, fmt.Errorf("loading allowlist: %w", err)
		}
		scrubber, err := secrets.NewScrubber(allow)
		if err != nil {
			closeFn()
			return nil, noop, fmt.Errorf("creating scrubber: %w", err)
		}
		s = WithScrubbing(s, scrubber, logger)
	}
	return s, closeFn, nil
}
