package hubwatch

import (
	"fmt"
	"strings"
)

// CommandSpec declares one user-facing command owned by a module.
type CommandSpec struct {
	// Name is the command name without the leading slash.
	Name string
	// Description is the one-line help text.
	Description string
	// Usage optionally documents the argument syntax.
	Usage string
}

// Validate checks command declaration fields.
func (s CommandSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("validate command spec: missing name")
	}
	if strings.TrimSpace(s.Description) == "" {
		return fmt.Errorf("validate command spec %s: missing description", s.Name)
	}

	return nil
}

// CommandInvocation carries one parsed command payload.
type CommandInvocation struct {
	// Name is the normalized command name without prefix and mention suffix.
	Name string
	// Mention is the optional mention suffix from `/<name>@<mention>`.
	Mention string
	// Args stores whitespace-split argument tokens after the command header.
	Args []string
	// RawInput stores the original inbound message text.
	RawInput string
}

// ArgText joins the argument tokens back into one free-text tail.
func (c *CommandInvocation) ArgText() string {
	if c == nil {
		return ""
	}

	return strings.Join(c.Args, " ")
}

// ParseCommand parses a message text into a command invocation.
//
// It returns false when the text does not start with a slash command header.
func ParseCommand(text string) (*CommandInvocation, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return nil, false
	}

	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return nil, false
	}

	header := strings.TrimPrefix(fields[0], "/")
	if header == "" {
		return nil, false
	}

	name, mention, _ := strings.Cut(header, "@")
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, false
	}

	return &CommandInvocation{
		Name:     name,
		Mention:  strings.TrimSpace(mention),
		Args:     fields[1:],
		RawInput: text,
	}, true
}

// CommandCatalog lists commands declared by all registered modules.
type CommandCatalog interface {
	// ListCommands returns all declared commands sorted by name.
	ListCommands() []CommandSpec
}
