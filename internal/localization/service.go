// Package localization implements the Localization service: language and keyboard
// configuration of the installed system.
package localization

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/osinstall/instconfd/api"
	"github.com/osinstall/instconfd/internal/bus"
	"github.com/osinstall/instconfd/internal/config"
	"github.com/osinstall/instconfd/internal/keyboard"
	"github.com/osinstall/instconfd/internal/kickstart"
	"github.com/osinstall/instconfd/internal/localed"
	"github.com/osinstall/instconfd/internal/task"
)

// Service holds the localization model.
type Service struct {
	mu    sync.Mutex
	model api.Localization

	cfg       *config.Config
	scheduler *bus.Scheduler
	localed   *localed.LocaleD
	live      keyboard.LiveKeyboard
	loader    keyboard.KeymapLoader

	LanguageChanged        bus.Signal[string]
	LanguageSupportChanged bus.Signal[[]string]
	VCKeymapChanged        bus.Signal[string]
	XLayoutsChanged        bus.Signal[[]string]
	SwitchOptionsChanged   bus.Signal[[]string]
	LanguageSeenChanged    bus.Signal[bool]
	KeyboardSeenChanged    bus.Signal[bool]
}

// New returns the service. A nil scheduler applies task results on the task goroutine.
func New(cfg *config.Config, scheduler *bus.Scheduler, l *localed.LocaleD, loader keyboard.KeymapLoader) *Service {
	s := &Service{
		cfg:       cfg,
		scheduler: scheduler,
		localed:   l,
		loader:    loader,
		model: api.Localization{
			LanguageSupport: []string{},
			XLayouts:        []string{},
			SwitchOptions:   []string{},
		},
	}

	if cfg.System.ProvidesLiveuser {
		s.live = keyboard.GnomeShellKeyboard{User: "liveuser"}
	}

	return s
}

// SetLiveKeyboard replaces the live session keyboard reader.
func (s *Service) SetLiveKeyboard(live keyboard.LiveKeyboard) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.live = live
}

// Model returns a copy of the current model.
func (s *Service) Model() api.Localization {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.model
	m.LanguageSupport = slices.Clone(s.model.LanguageSupport)
	m.XLayouts = slices.Clone(s.model.XLayouts)
	m.SwitchOptions = slices.Clone(s.model.SwitchOptions)

	return m
}

// Language returns the language of the installed system.
func (s *Service) Language() string {
	return s.Model().Language
}

// SetLanguage sets the language of the installed system.
func (s *Service) SetLanguage(language string) {
	s.mu.Lock()
	s.model.Language = language
	s.mu.Unlock()

	slog.Debug("Language is set", "language", language)
	s.LanguageChanged.Emit(language)
}

// SetLanguageSupport sets the additional languages to install.
func (s *Service) SetLanguageSupport(languages []string) {
	languages = nonNil(languages)

	s.mu.Lock()
	s.model.LanguageSupport = slices.Clone(languages)
	s.mu.Unlock()

	slog.Debug("Language support is set", "languages", strings.Join(languages, ","))
	s.LanguageSupportChanged.Emit(languages)
}

// SetVCKeymap sets the virtual console keymap.
func (s *Service) SetVCKeymap(keymap string) {
	s.mu.Lock()
	s.model.VCKeymap = keymap
	s.mu.Unlock()

	slog.Debug("Virtual console keymap is set", "keymap", keymap)
	s.VCKeymapChanged.Emit(keymap)
}

// SetXLayouts sets the X layouts.
func (s *Service) SetXLayouts(layouts []string) {
	layouts = nonNil(layouts)

	s.mu.Lock()
	s.model.XLayouts = slices.Clone(layouts)
	s.mu.Unlock()

	slog.Debug("X layouts are set", "layouts", strings.Join(layouts, ","))
	s.XLayoutsChanged.Emit(layouts)
}

// SetSwitchOptions sets the X layout switching options.
func (s *Service) SetSwitchOptions(options []string) {
	options = nonNil(options)

	s.mu.Lock()
	s.model.SwitchOptions = slices.Clone(options)
	s.mu.Unlock()

	slog.Debug("Layout switch options are set", "options", strings.Join(options, ","))
	s.SwitchOptionsChanged.Emit(options)
}

// SetLanguageSeen records whether the language came from kickstart.
func (s *Service) SetLanguageSeen(seen bool) {
	s.mu.Lock()
	s.model.LanguageSeen = seen
	s.mu.Unlock()

	s.LanguageSeenChanged.Emit(seen)
}

// SetKeyboardSeen records whether the keyboard came from kickstart.
func (s *Service) SetKeyboardSeen(seen bool) {
	s.mu.Lock()
	s.model.KeyboardSeen = seen
	s.mu.Unlock()

	s.KeyboardSeenChanged.Emit(seen)
}

// KeyboardConfiguration returns the keyboard part of the model.
func (s *Service) KeyboardConfiguration() api.KeyboardConfiguration {
	m := s.Model()

	return api.KeyboardConfiguration{XLayouts: m.XLayouts, VCKeymap: m.VCKeymap}
}

// ProcessKickstart applies the lang and keyboard commands to the model.
func (s *Service) ProcessKickstart(ctx context.Context, data *kickstart.Data) error {
	if data.Lang.Seen {
		s.SetLanguageSeen(true)
		s.SetLanguage(data.Lang.Lang)
		s.SetLanguageSupport(data.Lang.AddSupport)
	}

	if data.Keyboard.Seen {
		kb := api.KeyboardConfiguration{
			XLayouts: data.Keyboard.XLayouts,
			VCKeymap: data.Keyboard.VCKeymap,
		}

		// The generic argument only counts when nothing explicit was given.
		if data.Keyboard.Keyboard != "" && kb.VCKeymap == "" && len(kb.XLayouts) == 0 {
			resolved, err := keyboard.ResolveGeneric(ctx, s.loader, s.cfg.System.CanActivateKeyboard, data.Keyboard.Keyboard)
			if err != nil {
				return err
			}

			kb = resolved
		}

		s.SetKeyboardSeen(true)
		s.SetVCKeymap(kb.VCKeymap)
		s.SetXLayouts(kb.XLayouts)
		s.SetSwitchOptions(data.Keyboard.SwitchOptions)
	}

	return nil
}

// SetupKickstart fills the lang and keyboard commands from the model.
func (s *Service) SetupKickstart(data *kickstart.Data) {
	m := s.Model()

	data.Lang = kickstart.LangData{
		Seen:       m.Language != "",
		Lang:       m.Language,
		AddSupport: m.LanguageSupport,
	}

	data.Keyboard = kickstart.KeyboardData{
		Seen:          m.VCKeymap != "" || len(m.XLayouts) > 0,
		VCKeymap:      m.VCKeymap,
		XLayouts:      m.XLayouts,
		SwitchOptions: m.SwitchOptions,
	}
}

// ReadKickstart parses the kickstart and applies it.
func (s *Service) ReadKickstart(ctx context.Context, content string) api.KickstartReport {
	data, err := kickstart.ParseString(content)
	if err != nil {
		return kickstart.Report(nil, err)
	}

	err = s.ProcessKickstart(ctx, data)
	if err != nil {
		err = &kickstart.ParseError{LineNumber: data.Keyboard.LineNumber, Message: err.Error()}
	}

	return kickstart.Report(data, err)
}

// GenerateKickstart returns the lang and keyboard commands.
func (s *Service) GenerateKickstart() string {
	data := &kickstart.Data{}
	s.SetupKickstart(data)

	return data.String()
}

// CollectRequirements returns the languages the payload has to support.
func (s *Service) CollectRequirements() []api.Requirement {
	m := s.Model()
	reqs := []api.Requirement{}

	if m.Language != "" {
		reqs = append(reqs, api.LanguageRequirement(m.Language, "Required to support the locale."))
	}

	for _, lang := range m.LanguageSupport {
		reqs = append(reqs, api.LanguageRequirement(lang, "Required to support the locale."))
	}

	return reqs
}

// InstallWithTasks returns the tasks configuring the installed system.
func (s *Service) InstallWithTasks(sysroot string) []task.Task {
	m := s.Model()

	s.mu.Lock()
	live := s.live
	s.mu.Unlock()

	return []task.Task{
		NewLanguageInstallationTask(sysroot, m.Language, s.cfg.Localization.FallbackLocale),
		keyboard.NewInstallationTask(s.localed, live, keyboard.InstallOptions{
			Sysroot:         sysroot,
			HostRoot:        s.cfg.System.HostRoot,
			Language:        m.Language,
			Keyboard:        api.KeyboardConfiguration{XLayouts: m.XLayouts, VCKeymap: m.VCKeymap},
			SwitchOptions:   m.SwitchOptions,
			DefaultKeyboard: s.cfg.Localization.DefaultKeyboard,
			DefaultFont:     s.cfg.Localization.DefaultVCFont,
			CyrillicFont:    s.cfg.Localization.CyrillicVCFont,
		}),
	}
}

// PopulateMissingKeyboardConfigurationWithTask returns a task completing the keyboard
// configuration. The model is updated once the task succeeds.
func (s *Service) PopulateMissingKeyboardConfigurationWithTask() task.Task {
	s.mu.Lock()
	live := s.live
	s.mu.Unlock()

	t := keyboard.NewPopulateMissingTask(s.localed, live, s.cfg.Localization.DefaultKeyboard, s.KeyboardConfiguration())
	t.Succeeded.Connect(func(struct{}) { s.applyKeyboardResult(t.Result()) })

	return t
}

// ApplyKeyboardWithTask returns a task activating the keyboard configuration in the
// installer. The model is updated with what got activated.
func (s *Service) ApplyKeyboardWithTask() task.Task {
	m := s.Model()

	t := keyboard.NewApplyTask(s.localed, s.loader, s.cfg.System.CanActivateKeyboard,
		api.KeyboardConfiguration{XLayouts: m.XLayouts, VCKeymap: m.VCKeymap}, m.SwitchOptions)
	t.Succeeded.Connect(func(struct{}) { s.applyKeyboardResult(t.Result()) })

	return t
}

// GetKeyboardConfigurationWithTask returns a task reporting the completed keyboard
// configuration without changing the model.
func (s *Service) GetKeyboardConfigurationWithTask() task.Task {
	s.mu.Lock()
	live := s.live
	s.mu.Unlock()

	return keyboard.NewGetConfigurationTask(s.localed, live, s.cfg.Localization.DefaultKeyboard, s.KeyboardConfiguration())
}

func (s *Service) applyKeyboardResult(kb api.KeyboardConfiguration) {
	apply := func() {
		s.SetXLayouts(kb.XLayouts)
		s.SetVCKeymap(kb.VCKeymap)
	}

	if s.scheduler == nil {
		apply()

		return
	}

	s.scheduler.RunOnMain(apply)
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}

	return values
}
