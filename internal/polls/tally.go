package polls

import "github.com/livepoll/backend/internal/models"

// ComputeStats counts responses per declared option. Every option starts at zero; answers that are not
// declared options are ignored. Total is the number of responses, not the sum of the counts.
func ComputeStats(options []string, responses []models.Response) models.Stats {
	counts := make(map[string]int, len(options))
	for _, o := range options {
		counts[o] = 0
	}
	for _, r := range responses {
		if _, ok := counts[r.Answer]; ok {
			counts[r.Answer]++
		}
	}
	return models.Stats{OptionStats: counts, Total: len(responses)}
}
