package kernel

import (
	"time"

	"github.com/vk/manifold/internal/controller"
	"github.com/vk/manifold/internal/resource"
)

// ResourceSnapshot is the point-in-time view of one resource.
type ResourceSnapshot struct {
	Ref             string         `json:"ref"`
	Kind            string         `json:"kind"`
	Name            string         `json:"name"`
	URI             string         `json:"uri,omitempty"`
	Source          string         `json:"source,omitempty"`
	GenerationDepth int            `json:"generationDepth"`
	Fields          map[string]any `json:"fields,omitempty"`
	Instance        any            `json:"instance,omitempty"`
}

// Snapshot is an optional point-in-time dump of the registry, including
// the state contributed by instances implementing Snapshotter.
type Snapshot struct {
	TakenAt   time.Time          `json:"takenAt"`
	Holds     int                `json:"holds"`
	Resources []ResourceSnapshot `json:"resources"`
}

// Snapshot captures the registry and instance state at this instant, in
// registration order.
func (k *Kernel) Snapshot() Snapshot {
	snap := Snapshot{TakenAt: time.Now().UTC(), Holds: k.Holds()}
	for _, res := range k.resources.All() {
		rs := ResourceSnapshot{
			Ref:             res.FQN(),
			Kind:            res.Kind,
			Name:            res.Meta.Name,
			URI:             res.Meta.URI,
			Source:          res.Meta.Source,
			GenerationDepth: res.Meta.GenerationDepth,
			Fields:          resource.DeepCopyMap(res.Fields),
		}
		if m := k.byRef[res.FQN()]; m != nil && m.inst != nil {
			if s, ok := m.inst.(controller.Snapshotter); ok {
				rs.Instance = s.Snapshot()
			}
		}
		snap.Resources = append(snap.Resources, rs)
	}
	return snap
}
