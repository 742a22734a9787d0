package backend

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShellQuote_MatchesSpecPolicy(t *testing.T) {
	r := require.New(t)
	r.Equal("simple", shellQuote("simple"))
	r.Equal("'with space'", shellQuote("with space"))
	r.Equal(`'with'"'"'quote'`, shellQuote("with'quote"))
	r.Equal("'$variable'", shellQuote("$variable"))
	r.Equal("path/to/file", shellQuote("path/to/file"))
}

func TestCompose_OutermostLast(t *testing.T) {
	r := require.New(t)
	inner := Command{Program: "echo", Args: []string{"hi"}}

	wrapped, err := Compose(inner, DockerExecLayer{Container: "box"}, SSHLayer{Destination: "user@host"})
	r.NoError(err)
	r.Equal("ssh", wrapped.Program)
	r.Contains(wrapped.Args, "user@host")
	// The outer SSH command's remote payload embeds the inner docker exec.
	r.Contains(wrapped.Args[len(wrapped.Args)-1], "docker")
}

func TestSSHLayer_WrapsEnvAndWorkdir(t *testing.T) {
	r := require.New(t)
	layer := SSHLayer{Destination: "user@host", Port: 2222, Env: map[string]string{"FOO": "bar baz"}, WorkingDir: "/srv/app"}

	wrapped, err := layer.Wrap(Command{Program: "./run.sh", Args: []string{"--flag"}})
	r.NoError(err)
	r.Equal("ssh", wrapped.Program)
	r.Contains(wrapped.Args, "-p")
	r.Contains(wrapped.Args, "2222")
	remote := wrapped.Args[len(wrapped.Args)-1]
	r.Contains(remote, "FOO='bar baz'")
	r.Contains(remote, "cd /srv/app &&")
	r.Contains(remote, "./run.sh --flag")
}
