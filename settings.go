package tinkerpen

import "sort"

// Recognized editor options. Unknown names are forwarded untouched.
const (
	OptionWordWrap            = "wordWrap"
	OptionBasicAutocompletion = "basicAutocompletion"
	OptionLiveAutocompletion  = "liveAutocompletion"
)

// Settings maps an editor option name to its enabled state.
type Settings map[string]bool

// DefaultSettings returns every recognized option enabled.
func DefaultSettings() Settings {
	return Settings{
		OptionWordWrap:            true,
		OptionBasicAutocompletion: true,
		OptionLiveAutocompletion:  true,
	}
}

// Clone returns an independent copy.
func (s Settings) Clone() Settings {
	out := make(Settings, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// With returns a copy with name set to enabled.
func (s Settings) With(name string, enabled bool) Settings {
	out := s.Clone()
	out[name] = enabled
	return out
}

// Toggle returns a copy with name flipped. Missing options start disabled.
func (s Settings) Toggle(name string) Settings {
	return s.With(name, !s[name])
}

// Names returns the option names in stable order.
func (s Settings) Names() []string {
	names := make([]string, 0, len(s))
	for k := range s {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
