package tasklet

import (
	"strings"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
)

// Capabilities lists the optional behaviours a tasklet implements. Fields are nil when unsupported.
type Capabilities struct {
	Restartable port.Restartable
	Statistics  port.StatisticsProvider
	Recoverable port.Recoverable
	Skippable   port.Skippable
}

// DetectCapabilities queries the optional interfaces of t once.
func DetectCapabilities(t port.Tasklet) Capabilities {
	var c Capabilities
	c.Restartable, _ = t.(port.Restartable)
	c.Statistics, _ = t.(port.StatisticsProvider)
	c.Recoverable, _ = t.(port.Recoverable)
	c.Skippable, _ = t.(port.Skippable)
	return c
}

// CanRecover reports whether failures can be recovered and skipped.
func (c Capabilities) CanRecover() bool {
	return c.Recoverable != nil && c.Skippable != nil
}

func (c Capabilities) String() string {
	var names []string
	if c.Restartable != nil {
		names = append(names, "restartable")
	}
	if c.Statistics != nil {
		names = append(names, "statistics")
	}
	if c.Recoverable != nil {
		names = append(names, "recoverable")
	}
	if c.Skippable != nil {
		names = append(names, "skippable")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}
