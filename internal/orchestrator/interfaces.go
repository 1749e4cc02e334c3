package orchestrator

import (
	"github.com/churnwatch/churnwatch/internal/config"
)

// ConfigSource delivers configuration reloads. *config.Watcher satisfies it.
type ConfigSource interface {
	Updates() <-chan config.ConfigUpdate
}
