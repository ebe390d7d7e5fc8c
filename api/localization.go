package api

// Localization holds the language and keyboard configuration of the target system.
type Localization struct {
	Language        string   `json:"language"         yaml:"language"`
	LanguageSupport []string `json:"language_support" yaml:"language_support"`

	VCKeymap      string   `json:"vc_keymap"      yaml:"vc_keymap"`
	XLayouts      []string `json:"x_layouts"      yaml:"x_layouts"`
	SwitchOptions []string `json:"switch_options" yaml:"switch_options"`

	LanguageSeen bool `json:"language_seen" yaml:"language_seen"`
	KeyboardSeen bool `json:"keyboard_seen" yaml:"keyboard_seen"`
}

// KeyboardConfiguration is a pair of complementary keyboard representations.
type KeyboardConfiguration struct {
	XLayouts []string `json:"x_layouts" yaml:"x_layouts"`
	VCKeymap string   `json:"vc_keymap" yaml:"vc_keymap"`
}

// IsComplete reports whether both representations are set.
func (k KeyboardConfiguration) IsComplete() bool {
	return k.VCKeymap != "" && len(k.XLayouts) > 0
}
