package cmd

import (
	"errors"

	"github.com/mdde/genesisweb/internal/configstore"
	"github.com/mdde/genesisweb/internal/exitcode"
	"github.com/mdde/genesisweb/internal/registry"
	"github.com/mdde/genesisweb/internal/runner"
)

// coded attaches an exit code to domain errors that do not carry one.
func coded(err error) error {
	if err == nil {
		return nil
	}
	var ce *exitcode.Error
	if errors.As(err, &ce) {
		return err
	}
	var spawn *runner.SpawnError
	switch {
	case errors.Is(err, registry.ErrUnknownSession),
		errors.Is(err, configstore.ErrConfigNotFound):
		return exitcode.Wrap(exitcode.ErrConfigNotFound, "configuration not found", err)
	case errors.Is(err, configstore.ErrAlreadyExists):
		return exitcode.Wrap(exitcode.ErrAlreadyExists, "configuration already exists", err)
	case errors.Is(err, runner.ErrAlreadyRunning),
		errors.Is(err, runner.ErrNotRunning):
		return exitcode.Wrap(exitcode.ErrConflict, "run state conflict", err)
	case errors.Is(err, configstore.ErrInvalidName),
		errors.Is(err, configstore.ErrInvalidYAML):
		return exitcode.Wrap(exitcode.ErrUsage, "invalid configuration", err)
	case errors.As(err, &spawn):
		return exitcode.Wrap(exitcode.ErrWorkflow, "workflow did not start", err)
	default:
		return err
	}
}
