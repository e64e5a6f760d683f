package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/hurttlocker/eventbot/internal/event"
	"github.com/hurttlocker/eventbot/internal/llm"
)

// ClassifyLocation asks the model whether an event happens online or
// offline. Anything but an explicit offline answer, including an error,
// yields online.
func ClassifyLocation(ctx context.Context, provider llm.Provider, title, mission string) (event.Location, error) {
	if provider == nil {
		return event.LocationOnline, fmt.Errorf("no LLM provider configured")
	}
	out, err := provider.Complete(ctx, BuildLocationPrompt(title, mission), llm.CompletionOpts{
		Temperature: DefaultTemperature,
		MaxTokens:   50,
	})
	if err != nil {
		return event.LocationOnline, fmt.Errorf("classifying location: %w", err)
	}
	if strings.Contains(out, string(event.LocationOffline)) {
		return event.LocationOffline, nil
	}
	return event.LocationOnline, nil
}
