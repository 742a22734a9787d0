package backend

import (
	"fmt"
	"sort"
	"strings"

	"al.essio.dev/pkg/shellescape"
)

// Command is the plain program+args+env+workdir shape every Layer consumes
// and produces; composing layers is composing Command -> Command
// transforms, per original_source's command-executor/layered design.
type Command struct {
	Program    string
	Args       []string
	Env        map[string]string
	WorkingDir string
}

// Layer wraps a Command with one execution context: SSH to a host, `docker
// exec` into a container, or pass through unchanged for local execution.
// Layers compose outermost-last: the first layer applied is innermost.
type Layer interface {
	Wrap(inner Command) (Command, error)
	Description() string
}

// Compose applies layers in order, each wrapping the result of the previous
// one, so Compose(C, L1, L2) produces L2(L1(C)).
func Compose(inner Command, layers ...Layer) (Command, error) {
	cur := inner
	for _, l := range layers {
		wrapped, err := l.Wrap(cur)
		if err != nil {
			return Command{}, fmt.Errorf("layer %s: %w", l.Description(), err)
		}
		cur = wrapped
	}
	return cur, nil
}

// PassthroughLayer is the identity layer used for local execution.
type PassthroughLayer struct{}

func (PassthroughLayer) Wrap(inner Command) (Command, error) { return inner, nil }
func (PassthroughLayer) Description() string                 { return "local" }

// shellQuote escapes a token for safe inclusion in a composed shell command
// line: any argument containing whitespace or shell metacharacters is
// single-quoted, with embedded single quotes closed/reopened
// (exact policy).
func shellQuote(s string) string {
	return shellescape.Quote(s)
}

// commandToShellString renders a Command as a single shell line, quoting
// every argument.
func commandToShellString(c Command) string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Program)
	for _, a := range c.Args {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

// envPrefix renders env assignments and a `cd DIR &&` prefix ahead of the
// inner command, the format every wrapping layer below uses to apply its
// own environment/working-directory set.
func envPrefix(env map[string]string, workingDir string) string {
	var b strings.Builder
	if len(env) > 0 {
		keys := make([]string, 0, len(env))
		for k := range env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s=%s ", shellQuote(k), shellQuote(env[k]))
		}
	}
	if workingDir != "" {
		fmt.Fprintf(&b, "cd %s && ", shellQuote(workingDir))
	}
	return b.String()
}

// SSHLayer wraps a command to run over SSH on a remote host.
type SSHLayer struct {
	Destination string // user@host
	Port        int
	Env         map[string]string
	WorkingDir  string
}

func (l SSHLayer) Wrap(inner Command) (Command, error) {
	remote := envPrefix(l.Env, l.WorkingDir) + commandToShellString(inner)

	args := []string{}
	if l.Port != 0 {
		args = append(args, "-p", fmt.Sprintf("%d", l.Port))
	}
	args = append(args, l.Destination, remote)

	return Command{Program: "ssh", Args: args}, nil
}

func (l SSHLayer) Description() string { return fmt.Sprintf("ssh to %s", l.Destination) }

// DockerExecLayer wraps a command to run inside an already-running
// container via `docker exec`.
type DockerExecLayer struct {
	Container  string
	Env        map[string]string
	WorkingDir string
}

func (l DockerExecLayer) Wrap(inner Command) (Command, error) {
	shellCmd := envPrefix(l.Env, l.WorkingDir) + commandToShellString(inner)
	args := []string{"exec", l.Container, "sh", "-c", shellCmd}
	return Command{Program: "docker", Args: args}, nil
}

func (l DockerExecLayer) Description() string { return fmt.Sprintf("docker exec %s", l.Container) }
