package prompt

import (
	"context"
	"fmt"

	"github.com/charmbracelet/huh"
)

// DeviceChooser asks the user to pick a device.
type DeviceChooser struct{}

// Choose implements device.Chooser.
func (DeviceChooser) Choose(ctx context.Context, candidates []string, defaultIndex int) (string, error) {
	options := make([]huh.Option[string], 0, len(candidates))
	for _, candidate := range candidates {
		options = append(options, huh.NewOption(candidate, candidate))
	}

	var selected string
	if defaultIndex >= 0 && defaultIndex < len(candidates) {
		selected = candidates[defaultIndex]
	}

	err := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("Select the device to launch Wits").
			Options(options...).
			Value(&selected),
	)).RunWithContext(ctx)
	if err != nil {
		return "", fmt.Errorf("choose device: %w", err)
	}

	return selected, nil
}
