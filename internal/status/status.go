// Package status renders a plain-text operator display, standing in for the
// LCD/display collaborator the backpressure wait must keep alive
// (SPEC_FULL.md 4.1 step 1, 9A).
package status

import (
	"fmt"

	uuid "github.com/satori/go.uuid"
	"github.com/flosch/pongo2/v5"
)

const tpl = `motion planner {{ session_id }}
queue depth: {{ depth }}/{{ capacity }}
head: {{ head }}  tail: {{ tail }}
position (mm): X{{ x|floatformat:3 }} Y{{ y|floatformat:3 }} Z{{ z|floatformat:3 }} E{{ e|floatformat:3 }}
axes enabled: {% if x_en %}X {% endif %}{% if y_en %}Y {% endif %}{% if z_en %}Z {% endif %}{% if e_en %}E{% endif %}
recent blocks:
{% for blk in blocks %}  {{ blk.id }}  rate[{{ blk.initial_rate }}->{{ blk.final_rate }}]  entry={{ blk.entry_speed|floatformat:2 }}
{% endfor %}`

var template = pongo2.Must(pongo2.FromString(tpl))

// BlockSummary is the subset of a block's fields the status page shows.
type BlockSummary struct {
	ID           uuid.UUID
	InitialRate  int64
	FinalRate    int64
	EntrySpeed   float64
}

// Snapshot is everything the template needs, collected by the caller (the
// planner package doesn't depend on this package, keeping the dependency
// direction core-planner-first).
type Snapshot struct {
	SessionID uuid.UUID
	Depth     int
	Capacity  int
	Head, Tail uint32
	X, Y, Z, E float64
	XEnabled, YEnabled, ZEnabled, EEnabled bool
	Blocks []BlockSummary
}

// Render produces the status page text for s.
func Render(s Snapshot) (string, error) {
	blocks := make([]pongo2.Context, 0, len(s.Blocks))
	for _, b := range s.Blocks {
		blocks = append(blocks, pongo2.Context{
			"id":            b.ID.String(),
			"initial_rate":  b.InitialRate,
			"final_rate":    b.FinalRate,
			"entry_speed":   b.EntrySpeed,
		})
	}

	out, err := template.Execute(pongo2.Context{
		"session_id": s.SessionID.String(),
		"depth":      s.Depth,
		"capacity":   s.Capacity,
		"head":       s.Head,
		"tail":       s.Tail,
		"x":          s.X,
		"y":          s.Y,
		"z":          s.Z,
		"e":          s.E,
		"x_en":       s.XEnabled,
		"y_en":       s.YEnabled,
		"z_en":       s.ZEnabled,
		"e_en":       s.EEnabled,
		"blocks":     blocks,
	})
	if err != nil {
		return "", fmt.Errorf("status: render: %w", err)
	}
	return out, nil
}
