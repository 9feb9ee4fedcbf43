/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"io"
)

// Loader fills configuration sections from a DataProvider.
// Defaults of all sections are registered before any section reads its values.
type Loader struct {
	DataProvider DataProvider
}

// NewDefaultLoader creates a viper-backed loader where environment variables
// (<PREFIX>_<SECTION>_<KEY>) override values from the source.
func NewDefaultLoader(envVarsPrefix string) *Loader {
	va := NewViperAdapter()
	va.UseEnvVars(envVarsPrefix)
	return NewLoader(va)
}

func NewLoader(dp DataProvider) *Loader {
	return &Loader{dp}
}

// LoadFromFile reads the file of the given type and fills the sections.
func (l *Loader) LoadFromFile(path string, dataType DataType, sections ...Config) error {
	if err := l.DataProvider.SetFromFile(path, dataType); err != nil {
		return err
	}
	return l.LoadDefaults(sections...)
}

// LoadFromReader reads data of the given type and fills the sections.
func (l *Loader) LoadFromReader(reader io.Reader, dataType DataType, sections ...Config) error {
	if err := l.DataProvider.SetFromReader(reader, dataType); err != nil {
		return err
	}
	return l.LoadDefaults(sections...)
}

// LoadDefaults fills the sections from whatever the provider already holds (defaults and env vars).
func (l *Loader) LoadDefaults(sections ...Config) error {
	for _, section := range sections {
		section.SetProviderDefaults(ProviderFor(l.DataProvider, section))
	}
	for _, section := range sections {
		if err := section.Set(ProviderFor(l.DataProvider, section)); err != nil {
			return err
		}
	}
	return nil
}
