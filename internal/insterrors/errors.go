// Package insterrors defines the errors install and configuration tasks report to the
// installer orchestrator.
package insterrors

import (
	"errors"
	"fmt"
)

// Kind identifies which part of the installation failed.
type Kind int

// Supported installation error kinds.
const (
	KindGeneric Kind = iota
	KindLanguage
	KindKeyboard
	KindNetwork
	KindFirewall
)

var (
	// ErrInstallation matches every InstallationError regardless of its kind.
	ErrInstallation = errors.New("installation error")

	// ErrLanguageInstallation matches language installation failures.
	ErrLanguageInstallation = errors.New("language installation error")

	// ErrKeyboardInstallation matches keyboard installation failures.
	ErrKeyboardInstallation = errors.New("keyboard installation error")

	// ErrNetworkInstallation matches network installation failures.
	ErrNetworkInstallation = errors.New("network installation error")

	// ErrFirewallConfiguration matches firewall configuration failures.
	ErrFirewallConfiguration = errors.New("firewall configuration error")

	// ErrKeyboardConfiguration is returned when a host tool required to configure the
	// keyboard is missing.
	ErrKeyboardConfiguration = errors.New("keyboard configuration error")
)

var kindSentinels = map[Kind]error{
	KindLanguage: ErrLanguageInstallation,
	KindKeyboard: ErrKeyboardInstallation,
	KindNetwork:  ErrNetworkInstallation,
	KindFirewall: ErrFirewallConfiguration,
}

// InstallationError is fatal for the task that returned it.
type InstallationError struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *InstallationError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}

	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *InstallationError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the kind sentinels and ErrInstallation.
func (e *InstallationError) Is(target error) bool {
	if target == ErrInstallation {
		return true
	}

	sentinel, ok := kindSentinels[e.Kind]

	return ok && target == sentinel
}

func newError(kind Kind, err error, format string, args ...any) error {
	return &InstallationError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// Language returns a language installation error.
func Language(err error, format string, args ...any) error {
	return newError(KindLanguage, err, format, args...)
}

// Keyboard returns a keyboard installation error.
func Keyboard(err error, format string, args ...any) error {
	return newError(KindKeyboard, err, format, args...)
}

// Network returns a network installation error.
func Network(err error, format string, args ...any) error {
	return newError(KindNetwork, err, format, args...)
}

// Firewall returns a firewall configuration error.
func Firewall(err error, format string, args ...any) error {
	return newError(KindFirewall, err, format, args...)
}

// KeyboardConfiguration returns an error wrapping ErrKeyboardConfiguration.
func KeyboardConfiguration(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrKeyboardConfiguration, fmt.Sprintf(format, args...))
}
