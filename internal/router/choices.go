package router

import (
	"strconv"

	"github.com/MrWong99/voicetap/internal/engine"
)

// Choice is one selectable value for a route.
type Choice struct {
	Value int
	Label string
}

// Choices lists the route values a consumer of category cat may select at
// tier: [Mute] followed by every valid source plane, labelled with the stage
// name and plane index. An unknown tier offers Mute only.
func Choices(tier engine.Tier, cat engine.Category) []Choice {
	limit := tier.PlaneLimit(cat)
	out := make([]Choice, 0, limit+1)
	out = append(out, Choice{Value: Mute, Label: "Mute"})
	name := cat.DisplayName()
	for i := 0; i < limit; i++ {
		out = append(out, Choice{Value: i, Label: name + " " + strconv.Itoa(i)})
	}
	return out
}
