package registry

// DefaultDefinitions returns the built-in agent set used when the
// workspace holds no definitions yet.
func DefaultDefinitions() []*Definition {
	return []*Definition{
		{
			Name:         "DeveloperAgent",
			Role:         "software developer",
			Description:  "Implements features, writes and refactors code, fixes bugs and builds solutions across the codebase",
			Capabilities: []string{"code_generation", "code_analysis", "refactoring", "debugging"},
			Tools:        []string{"editor", "file_system", "terminal", "linter"},
			Permissions: map[string]bool{
				PermissionFileSystem: true,
				PermissionTerminal:   true,
				PermissionNetwork:    true,
			},
			CanCall: []string{"TesterAgent", "DocWriterAgent"},
		},
		{
			Name:         "TesterAgent",
			Role:         "qa engineer",
			Description:  "Designs and runs test suites, verifies coverage and validates behavior against requirements",
			Capabilities: []string{"testing", "test_planning", "code_analysis"},
			Tools:        []string{"test_runner", "coverage", "terminal"},
			Permissions: map[string]bool{
				PermissionFileSystem: true,
				PermissionTerminal:   true,
				PermissionNetwork:    false,
			},
		},
		{
			Name:         "SecurityAgent",
			Role:         "security analyst",
			Description:  "Audits code and dependencies for vulnerabilities and reviews the security posture of changes",
			Capabilities: []string{"security_audit", "code_review", "dependency_analysis"},
			Tools:        []string{"security_scanner", "dependency_auditor"},
			Permissions: map[string]bool{
				PermissionFileSystem: true,
				PermissionTerminal:   false,
				PermissionNetwork:    true,
			},
		},
		{
			Name:         "PerformanceAgent",
			Role:         "performance engineer",
			Description:  "Profiles hot paths, analyzes latency and throughput and recommends optimizations",
			Capabilities: []string{"performance_analysis", "profiling", "code_analysis"},
			Tools:        []string{"profiler", "terminal", "log_analyzer"},
			Permissions: map[string]bool{
				PermissionFileSystem: true,
				PermissionTerminal:   true,
				PermissionNetwork:    false,
			},
		},
		{
			Name:         "DocWriterAgent",
			Role:         "technical writer",
			Description:  "Writes documentation, guides and API references from source code and design notes",
			Capabilities: []string{"documentation", "summarization"},
			Tools:        []string{"editor", "file_system"},
			Permissions: map[string]bool{
				PermissionFileSystem: true,
				PermissionTerminal:   false,
				PermissionNetwork:    false,
			},
		},
	}
}
