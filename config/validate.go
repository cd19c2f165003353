package config

import "fmt"

// validate enforces the invariants the rest of the engine relies on.
// Everything caught here is a fatal ConfigError before any phase starts.
func (c *Config) validate() error {
	if c.Version.Format != "semver" {
		return configErrorf("version.format", "unsupported format %q", c.Version.Format)
	}
	if p := c.Version.Bump.Policy; p != "" && p != "conventional-commits" {
		return configErrorf("version.bump.policy", "unsupported policy %q", p)
	}

	volumeNames := map[string]bool{}
	for i, v := range c.Volumes {
		if v.Name == "" {
			return configErrorf(fmt.Sprintf("volumes[%d]", i), "volume needs a name")
		}
		if volumeNames[v.Name] {
			return configErrorf(fmt.Sprintf("volumes[%d]", i), "duplicate volume %q", v.Name)
		}
		volumeNames[v.Name] = true
	}

	for _, p := range c.Phases {
		if len(p.Variants) == 0 {
			return configErrorf("phases."+p.Name, "phase has no variants")
		}
		for _, v := range p.Variants {
			for j := range v.Steps {
				path := fmt.Sprintf("phases.%s.%s[%d]", p.Name, v.Name, j)
				if err := validateStep(&v.Steps[j], path, volumeNames); err != nil {
					return err
				}
			}
		}
	}
	for i := range c.PostSubmit {
		if err := validateStep(&c.PostSubmit[i], fmt.Sprintf("post-submit[%d]", i), volumeNames); err != nil {
			return err
		}
	}
	for name, steps := range c.Modality {
		for i := range steps {
			path := fmt.Sprintf("modality-source-preparation.%s[%d]", name, i)
			if err := validateStep(&steps[i], path, volumeNames); err != nil {
				return err
			}
		}
	}

	for i, l := range c.CILocks {
		if l.RepoName == "" {
			return configErrorf(fmt.Sprintf("ci-locks[%d]", i), "lock needs a repo-name")
		}
		if l.FromPhaseOnward != "" && c.Phase(l.FromPhaseOnward) == nil {
			return configErrorf(fmt.Sprintf("ci-locks[%d]", i),
				"from-phase-onward references unknown phase %q", l.FromPhaseOnward)
		}
	}
	return nil
}

func validateStep(s *Step, path string, volumes map[string]bool) error {
	if s.Sh == "" {
		return configErrorf(path, "step needs a command (sh)")
	}
	if s.TimeoutSeconds < 0 {
		return configErrorf(path, "negative timeout")
	}
	switch s.Gate() {
	case RunAlways, RunNewVersionOnly, RunOnlyChanged:
	default:
		return configErrorf(path, "unknown run-on-change value %q", s.RunOnChange)
	}
	if s.Foreach != "" && s.Foreach != "AUTOSQUASHED_COMMIT" {
		return configErrorf(path, "unsupported foreach subject %q", s.Foreach)
	}
	for _, name := range s.Volumes {
		if !volumes[name] {
			return configErrorf(path, "unknown volume %q", name)
		}
	}
	for i := range s.WithCredentials {
		if err := validateCredential(&s.WithCredentials[i], fmt.Sprintf("%s.with-credentials[%d]", path, i)); err != nil {
			return err
		}
	}
	return nil
}

// validateCredential checks the type/variable pairing: a mismatch here
// is the CredentialTypeMismatch case and never survives to execution.
func validateCredential(c *CredentialRef, path string) error {
	if c.ID == "" {
		return configErrorf(path, "credential needs an id")
	}
	switch c.Type {
	case CredUsernamePassword:
		if c.UsernameVariable == "" || c.PasswordVariable == "" {
			return configErrorf(path, "%s credential needs username-variable and password-variable", c.Type)
		}
		if c.StringVariable != "" || c.FileVariable != "" {
			return configErrorf(path, "%s credential does not take string-variable or file-variable", c.Type)
		}
	case CredString:
		if c.StringVariable == "" {
			return configErrorf(path, "%s credential needs string-variable", c.Type)
		}
		if c.UsernameVariable != "" || c.PasswordVariable != "" || c.FileVariable != "" {
			return configErrorf(path, "%s credential takes only string-variable", c.Type)
		}
	case CredFile, CredSSHKey:
		if c.FileVariable == "" {
			return configErrorf(path, "%s credential needs file-variable", c.Type)
		}
	default:
		return configErrorf(path, "unknown credential type %q", c.Type)
	}
	return nil
}
