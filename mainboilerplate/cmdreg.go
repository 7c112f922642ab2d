package mainboilerplate

import "github.com/jessevdk/go-flags"

// AddCommandFunc registers a sub-command under a parent go-flags Command.
type AddCommandFunc func(*flags.Command) error

// CommandRegistry accumulates AddCommandFunc registrations, keyed by the dotted
// name of the parent command ("" is the root; "generations" nests one level).
// Command packages register themselves from init functions, and the program's
// Execute walks the registry once the root parser exists.
type CommandRegistry map[string][]AddCommandFunc

// NewCommandRegistry returns an empty CommandRegistry.
func NewCommandRegistry() CommandRegistry {
	return make(CommandRegistry)
}

// AddCommand registers |command| under parent |parentName|, with its
// descriptions and flag-bearing |data|.
func (cr CommandRegistry) AddCommand(parentName string, command string, shortDescription string, longDescription string, data interface{}) {
	cr[parentName] = append(cr[parentName], func(cmd *flags.Command) error {
		_, err := cmd.AddCommand(command, shortDescription, longDescription, data)
		return err
	})
}

// AddCommands adds every command registered under |rootName| to |rootCmd|,
// recursing into sub-commands when |recursive| is set.
func (cr CommandRegistry) AddCommands(rootName string, rootCmd *flags.Command, recursive bool) error {
	for _, addCommandFunc := range cr[rootName] {
		if err := addCommandFunc(rootCmd); err != nil {
			return err
		}
	}
	if !recursive {
		return nil
	}
	for _, cmd := range rootCmd.Commands() {
		var cmdName = cmd.Name
		if rootName != "" {
			cmdName = rootName + "." + cmdName
		}
		if err := cr.AddCommands(cmdName, cmd, recursive); err != nil {
			return err
		}
	}
	return nil
}
