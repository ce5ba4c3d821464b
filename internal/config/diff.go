package config

import (
	"slices"
	"strings"
)

// ConfigDiff describes what changed between two configs.
// Only consumer settings and the log level are hot-reloaded; engine and
// server changes are reported so the caller can ask for a restart.
type ConfigDiff struct {
	ConsumersChanged bool           // true if any consumer was added, removed, or reconfigured
	ConsumerChanges  []ConsumerDiff // sorted by name
	LogLevelChanged  bool
	NewLogLevel      LogLevel
	RestartRequired  bool // engine, listen address, or log format changed
}

// ConsumerDiff describes what changed for a single consumer between two configs.
type ConsumerDiff struct {
	Name          string
	StageChanged  bool
	LayoutChanged bool
	RoutesChanged bool
	Added         bool
	Removed       bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Engine != new.Engine ||
		old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Server.LogFormat != new.Server.LogFormat ||
		old.Meter != new.Meter {
		d.RestartRequired = true
	}

	oldConsumers := make(map[string]*ConsumerConfig, len(old.Consumers))
	for i := range old.Consumers {
		oldConsumers[old.Consumers[i].Name] = &old.Consumers[i]
	}
	newConsumers := make(map[string]*ConsumerConfig, len(new.Consumers))
	for i := range new.Consumers {
		newConsumers[new.Consumers[i].Name] = &new.Consumers[i]
	}

	// Detect modified and removed consumers.
	for name, oc := range oldConsumers {
		nc, exists := newConsumers[name]
		if !exists {
			d.ConsumerChanges = append(d.ConsumerChanges, ConsumerDiff{Name: name, Removed: true})
			continue
		}
		cd := diffConsumer(name, oc, nc)
		if cd.StageChanged || cd.LayoutChanged || cd.RoutesChanged {
			d.ConsumerChanges = append(d.ConsumerChanges, cd)
		}
	}

	// Detect added consumers.
	for name := range newConsumers {
		if _, exists := oldConsumers[name]; !exists {
			d.ConsumerChanges = append(d.ConsumerChanges, ConsumerDiff{Name: name, Added: true})
		}
	}

	slices.SortFunc(d.ConsumerChanges, func(a, b ConsumerDiff) int {
		return strings.Compare(a.Name, b.Name)
	})
	d.ConsumersChanged = len(d.ConsumerChanges) > 0
	return d
}

// diffConsumer compares two consumer configs with the same name. Layouts are
// compared after resolution so "" and "stereo" are equal; trailing mutes in
// routes make no difference.
func diffConsumer(name string, old, new *ConsumerConfig) ConsumerDiff {
	cd := ConsumerDiff{Name: name}
	if old.Stage != new.Stage {
		cd.StageChanged = true
	}
	if old.SpeakerLayout() != new.SpeakerLayout() {
		cd.LayoutChanged = true
	}
	if !slices.Equal(canonicalRoutes(old.Routes), canonicalRoutes(new.Routes)) {
		cd.RoutesChanged = true
	}
	return cd
}

func canonicalRoutes(routes []int) []int {
	out := make([]int, 0, len(routes))
	out = append(out, routes...)
	for len(out) > 0 && out[len(out)-1] < 0 {
		out = out[:len(out)-1]
	}
	for i := range out {
		if out[i] < 0 {
			out[i] = -1
		}
	}
	return out
}

// Changed reports whether d holds anything a running app must act on.
func (d ConfigDiff) Changed() bool {
	return d.ConsumersChanged || d.LogLevelChanged || d.RestartRequired
}

// Summary renders the consumer changes for logs: "+name" for added,
// "-name" for removed and "name(stage,layout,routes)" listing what changed
// otherwise.
func (d ConfigDiff) Summary() []string {
	out := make([]string, 0, len(d.ConsumerChanges))
	for _, c := range d.ConsumerChanges {
		switch {
		case c.Added:
			out = append(out, "+"+c.Name)
		case c.Removed:
			out = append(out, "-"+c.Name)
		default:
			var what []string
			if c.StageChanged {
				what = append(what, "stage")
			}
			if c.LayoutChanged {
				what = append(what, "layout")
			}
			if c.RoutesChanged {
				what = append(what, "routes")
			}
			out = append(out, c.Name+"("+strings.Join(what, ",")+")")
		}
	}
	return out
}
