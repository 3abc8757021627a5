// Package config provides configuration loading and validation for the
// translation relay. Settings are read from YAML on top of built-in defaults
// and validated section by section.
package config
