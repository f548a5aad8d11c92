package video

import "strings"

// LadderKey selects a fallback ladder.
type LadderKey struct {
	Asset    bool
	Portrait bool
}

// Ladders maps (has-asset, aspect) to ordered fallback model ids.
type Ladders map[LadderKey][]string

// DefaultLadders returns the fallback models used when none are configured.
func DefaultLadders() Ladders {
	return Ladders{
		{Asset: false, Portrait: false}: {"veo_3_1_t2v_fast", "veo_3_0_t2v_fast", "veo_2_0_t2v"},
		{Asset: false, Portrait: true}:  {"veo_3_1_t2v_fast_portrait", "veo_3_0_t2v_fast_portrait"},
		{Asset: true, Portrait: false}:  {"veo_3_1_i2v_s_fast", "veo_3_0_r2v_fast"},
		{Asset: true, Portrait: true}:   {"veo_3_1_i2v_s_fast_portrait", "veo_3_0_r2v_fast_portrait"},
	}
}

// IsPortrait reports whether aspect is a vertical ratio.
func IsPortrait(aspect string) bool {
	a := strings.ToLower(strings.TrimSpace(aspect))
	return a == "9:16" || a == "portrait"
}

// For returns requested followed by the ladder for (hasAsset, aspect),
// without blanks or duplicates.
func (l Ladders) For(hasAsset bool, aspect, requested string) []string {
	candidates := append([]string{requested}, l[LadderKey{Asset: hasAsset, Portrait: IsPortrait(aspect)}]...)
	out := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, model := range candidates {
		model = strings.TrimSpace(model)
		if model == "" {
			continue
		}
		if _, dup := seen[model]; dup {
			continue
		}
		seen[model] = struct{}{}
		out = append(out, model)
	}
	return out
}
