package cursor

// buildArgs constructs command line arguments for the Cursor Agent CLI:
//
//	cursor-agent --print --output-format stream-json [--model m] [--force] [extra...] "prompt"
func buildArgs(cfg Config) []string {
	args := []string{
		"--print",
		"--output-format", "stream-json",
	}

	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}

	// The agent must edit files without asking for confirmation.
	if cfg.SkipPermissions {
		args = append(args, "--force")
	}

	args = append(args, cfg.ExtraArgs...)

	// Prompt is the final positional argument.
	if cfg.Prompt != "" {
		args = append(args, cfg.Prompt)
	}

	return args
}
